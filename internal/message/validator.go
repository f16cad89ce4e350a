package message

import (
	"fmt"
	"unicode/utf8"

	"github.com/loqui/social-core/internal/domain"
)

const (
	MaxBodyBytes = 4096 // 4KB max encoded size
	MaxBodyChars = 2000 // max character count
	MaxEmojiLen  = 32   // longest accepted reaction emoji, in bytes
)

// ValidateBody checks that a message body meets content requirements.
func ValidateBody(text string) error {
	if len(text) == 0 {
		return fmt.Errorf("%w: message body is empty", domain.ErrValidation)
	}
	if len(text) > MaxBodyBytes {
		return fmt.Errorf("%w: body exceeds %d byte limit", domain.ErrValidation, MaxBodyBytes)
	}
	if utf8.RuneCountInString(text) > MaxBodyChars {
		return fmt.Errorf("%w: body exceeds %d character limit", domain.ErrValidation, MaxBodyChars)
	}
	if !utf8.ValidString(text) {
		return fmt.Errorf("%w: body contains invalid UTF-8", domain.ErrValidation)
	}
	return nil
}

// ValidateEmoji checks a reaction emoji value.
func ValidateEmoji(emoji string) error {
	if len(emoji) == 0 {
		return fmt.Errorf("%w: emoji is empty", domain.ErrValidation)
	}
	if len(emoji) > MaxEmojiLen {
		return fmt.Errorf("%w: emoji exceeds %d byte limit", domain.ErrValidation, MaxEmojiLen)
	}
	if !utf8.ValidString(emoji) {
		return fmt.Errorf("%w: emoji contains invalid UTF-8", domain.ErrValidation)
	}
	return nil
}

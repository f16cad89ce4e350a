package message

import (
	"errors"
	"strings"
	"testing"

	"github.com/loqui/social-core/internal/domain"
)

func TestValidateBody(t *testing.T) {
	if err := ValidateBody("hello"); err != nil {
		t.Errorf("plain text should validate: %v", err)
	}
	if err := ValidateBody("👍🎉 emoji and ünïcode"); err != nil {
		t.Errorf("unicode text should validate: %v", err)
	}
}

func TestValidateBody_Empty(t *testing.T) {
	err := ValidateBody("")
	if !errors.Is(err, domain.ErrValidation) {
		t.Errorf("expected ErrValidation for empty body, got %v", err)
	}
}

func TestValidateBody_TooLong(t *testing.T) {
	if err := ValidateBody(strings.Repeat("a", MaxBodyBytes+1)); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("expected ErrValidation for oversized body, got %v", err)
	}

	// Below the byte cap but above the character cap.
	if err := ValidateBody(strings.Repeat("b", MaxBodyChars+1)); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("expected ErrValidation for too many characters, got %v", err)
	}
}

func TestValidateBody_InvalidUTF8(t *testing.T) {
	if err := ValidateBody(string([]byte{0xff, 0xfe})); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("expected ErrValidation for invalid UTF-8, got %v", err)
	}
}

func TestValidateEmoji(t *testing.T) {
	if err := ValidateEmoji("👍"); err != nil {
		t.Errorf("emoji should validate: %v", err)
	}
	if err := ValidateEmoji(""); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("expected ErrValidation for empty emoji, got %v", err)
	}
	if err := ValidateEmoji(strings.Repeat("👍", 20)); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("expected ErrValidation for oversized emoji, got %v", err)
	}
}

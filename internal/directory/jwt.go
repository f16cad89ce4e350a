package directory

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"github.com/loqui/social-core/internal/domain"
)

// JWTAuthenticator verifies HS256 connection credentials issued by the
// platform's auth service. The user id is carried in the standard "sub"
// claim. Credential issuance is out of scope; only verification happens
// here.
type JWTAuthenticator struct {
	secret []byte
}

// NewJWTAuthenticator creates an authenticator with the shared signing
// secret.
func NewJWTAuthenticator(secret []byte) *JWTAuthenticator {
	return &JWTAuthenticator{secret: secret}
}

// Authenticate parses and verifies the credential, returning the user id.
// Any parse, signature, or expiry failure maps to domain.ErrAuth.
func (a *JWTAuthenticator) Authenticate(credential string) (string, error) {
	if credential == "" {
		return "", fmt.Errorf("%w: missing credential", domain.ErrAuth)
	}

	token, err := jwt.Parse(credential, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return a.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrAuth, err)
	}

	sub, err := token.Claims.GetSubject()
	if err != nil || sub == "" {
		return "", fmt.Errorf("%w: credential has no subject", domain.ErrAuth)
	}
	return sub, nil
}

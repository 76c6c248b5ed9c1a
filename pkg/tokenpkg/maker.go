// Package tokenpkg issues and verifies access tokens that carry the caller identity.
package tokenpkg

import (
	"fmt"
	"time"
)

// Supported token types.
const (
	TypePaseto = "paseto"
	TypeJWT    = "jwt"
)

// Maker is an interface for managing tokens.
type Maker interface {
	// CreateToken creates a new token for the account and duration.
	CreateToken(accountID int32, username string, duration time.Duration) (string, *Payload, error)
	// VerifyToken checks if the token is valid and returns its payload.
	VerifyToken(token string) (*Payload, error)
}

// NewMaker returns the Maker of the given type. An empty type selects paseto.
func NewMaker(tokenType, key string) (Maker, error) {
	switch tokenType {
	case TypePaseto, "":
		m, err := NewPasetoMaker(key)
		if err != nil {
			return nil, err
		}
		return m, nil
	case TypeJWT:
		m, err := NewJWTMaker(key)
		if err != nil {
			return nil, err
		}
		return m, nil
	}

	return nil, fmt.Errorf("unsupported token type %q", tokenType)
}

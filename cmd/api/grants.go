package main

import (
	"errors"

	jwtinfra "github.com/portrait-api/internal/infrastructure/jwt"
)

var errNoKeys = errors.New("grant keys not configured")

type grantSigner interface {
	Sign(scope, recordID, phone, email string) (string, error)
}

// rejectAll and unsignable stand in for the JWT provider when no keys are
// configured.
type rejectAll struct{}

func (rejectAll) Verify(string) (*jwtinfra.Claims, error) { return nil, errNoKeys }

type unsignable struct{}

func (unsignable) Sign(string, string, string, string) (string, error) { return "", errNoKeys }

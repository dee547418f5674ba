// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package auth adapts the WebSocket handshake to an external
// authentication predicate: validate(token) -> user_info | AuthError.
package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/ccobservatory/core/internal/transcript"
)

// Error is raised by a Predicate when a token fails validation. Any other
// error returned by a Predicate is treated as an unexpected failure
// (close code 1011) rather than an authentication rejection (1008).
type Error struct {
	Reason string
}

func (e *Error) Error() string { return fmt.Sprintf("auth: %s", e.Reason) }

// Predicate validates a bearer token and returns the principal it names.
// The core treats UserInfo as opaque beyond its UserID field.
type Predicate interface {
	Validate(token string) (transcript.UserInfo, error)
}

// JWTPredicate is the default Predicate: HMAC-signed JWTs carrying a
// "sub" claim as the user id.
type JWTPredicate struct {
	secret []byte
}

// NewJWTPredicate creates a JWTPredicate verifying tokens with secret
// using HS256.
func NewJWTPredicate(secret string) *JWTPredicate {
	return &JWTPredicate{secret: []byte(secret)}
}

// Validate parses and verifies token, returning an *Error (never a bare
// error) when the token is malformed, expired, or has a bad signature.
func (p *JWTPredicate) Validate(token string) (transcript.UserInfo, error) {
	if token == "" {
		return transcript.UserInfo{}, &Error{Reason: "empty token"}
	}

	parsed, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return p.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}), jwt.WithLeeway(5*time.Second))

	if err != nil {
		return transcript.UserInfo{}, &Error{Reason: err.Error()}
	}

	if !parsed.Valid {
		return transcript.UserInfo{}, &Error{Reason: "invalid token"}
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return transcript.UserInfo{}, &Error{Reason: "unrecognized claims shape"}
	}

	sub, _ := claims["sub"].(string)
	if sub == "" {
		return transcript.UserInfo{}, &Error{Reason: "token missing sub claim"}
	}

	return transcript.UserInfo{UserID: sub}, nil
}

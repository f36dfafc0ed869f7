// Package domain contains entities and their invariants, without transport or storage.
package domain

import (
	"fmt"
	"strings"
)

const MaxUserIDLen = 64

type UserID string

// ParseUserID validates an identity handed over by the authentication layer.
func ParseUserID(raw string) (UserID, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("user id empty: %w", ErrInvalidInput)
	}
	if len(raw) > MaxUserIDLen {
		return "", fmt.Errorf("user id too long: %w", ErrInvalidInput)
	}
	return UserID(raw), nil
}

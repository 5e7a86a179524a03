// Package domain contains entity without logic, just meta-data
package domain

import (
	"errors"
)

const MaxUserIDLen = 64

var (
	ErrUserIDEmpty   = errors.New("user id empty")
	ErrUserIDTooLong = errors.New("user id too long")
	ErrSameUser      = errors.New("cannot call yourself")
)

type UserID string

// ParseUserID avoids ad-hoc conversions in adapters and keeps validation obvious.
func ParseUserID(s string) (UserID, error) {
	id := UserID(s)
	if err := id.Validate(); err != nil {
		return "", err
	}
	return id, nil
}

func (id UserID) Validate() error {
	if len(id) == 0 {
		return ErrUserIDEmpty
	}
	if len(id) > MaxUserIDLen {
		return ErrUserIDTooLong
	}
	return nil
}

func (id UserID) String() string { return string(id) }

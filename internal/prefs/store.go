// Package prefs stores small per-user client preferences (display-name and
// avatar overrides, MFA prompt dismissal, XP counter) behind a swappable
// backend.
package prefs

import (
	"context"
	"errors"
	"fmt"
	"strconv"
)

// Store is a string key/value store. Get reports found=false for absent keys.
type Store interface {
	Get(ctx context.Context, key string) (value string, found bool, err error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// AccessTokenKey holds the identity service access token between restarts.
const AccessTokenKey = "identity_access_token"

func UsernameKey(userID string) string     { return "username_" + userID }
func AvatarKey(userID string) string       { return "avatar_" + userID }
func MfaDismissedKey(userID string) string { return "mfa_dismissed_" + userID }
func XPKey(userID string) string           { return "xp_" + userID }

// Flag reads a boolean preference stored as "true".
func Flag(ctx context.Context, s Store, key string) (bool, error) {
	v, ok, err := s.Get(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	return v == "true", nil
}

func Int(ctx context.Context, s Store, key string) (int, error) {
	v, ok, err := s.Get(ctx, key)
	if err != nil || !ok {
		return 0, err
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("preference %s is not an integer: %w", key, err)
	}
	return n, nil
}

var ErrUnknownDriver = errors.New("unknown preference driver")

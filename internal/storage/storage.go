package storage

import "errors"

var (
	ErrUserNotFound     = errors.New("user not found")
	ErrUserExists       = errors.New("user already exists")
	ErrCodeNotFound     = errors.New("referral code not found")
	ErrCodeExists       = errors.New("referral code already exists")
	ErrActiveCodeExists = errors.New("owner already has an active referral code")

	// ErrUnavailable marks infrastructure failures (timeouts, lost connections, driver errors).
	// Callers may retry; it must never be reported as a credential problem.
	ErrUnavailable = errors.New("storage unavailable")
)

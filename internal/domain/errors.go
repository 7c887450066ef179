package domain

import "errors"

var (
	ErrNotFound         = errors.New("not found")
	ErrTransient        = errors.New("transient io failure")
	ErrValidation       = errors.New("validation failed")
	ErrDelivery         = errors.New("delivery failed")
	ErrCacheUnavailable = errors.New("cache unavailable")
	ErrUnknownHandle    = errors.New("unknown subscriber handle")
	ErrLockHeld         = errors.New("lock held by another holder")
)

package types

import "errors"

// Input and credential errors.
var (
	ErrInvalidInput      = errors.New("invalid input")
	ErrUnsupportedScheme = errors.New("unsupported hash scheme")
	ErrUnknownHashFormat = errors.New("unknown hash format")
)

// Identity and authorization errors. ErrPermissionDenied is always preceded
// by a committed access_denied audit event.
var (
	ErrAuthenticationFailed = errors.New("authentication failed")
	ErrPermissionDenied     = errors.New("permission denied")
)

// Business-rule errors, surfaced verbatim.
var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")
)

// File-system errors. The on-disk state may be inconsistent after either.
var (
	ErrBackupFailed  = errors.New("backup failed")
	ErrRestoreFailed = errors.New("restore failed")
)

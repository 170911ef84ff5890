package errors

import "errors"

// Domain errors
var (
	// Target validation errors
	ErrInvalidURL     = errors.New("invalid target URL")
	ErrBlockedTarget  = errors.New("Target is blocked for security reasons")
	ErrNotAllowlisted = errors.New("target domain is not on the allow-list")

	// Admission errors
	ErrRateLimited   = errors.New("rate limit exceeded")
	ErrMaxConcurrent = errors.New("Max concurrent scans reached")

	// Scan lifecycle errors
	ErrScanNotFound      = errors.New("scan not found")
	ErrScanNotCompleted  = errors.New("scan is not completed yet")
	ErrInvalidTransition = errors.New("invalid scan status transition")
	ErrNotCancelable     = errors.New("only a queued scan can be canceled")
	ErrNotAuthorized     = errors.New("not authorized for this scan")

	// Result errors
	ErrResultNotFound = errors.New("scan result not found")

	// Vault errors
	ErrEmptyPassphrase  = errors.New("passphrase cannot be empty")
	ErrCiphertextFormat = errors.New("ciphertext is malformed or truncated")
	ErrDecryptFailed    = errors.New("decryption failed: wrong passphrase or corrupted data")
)

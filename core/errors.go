package core

import (
	"errors"
	"fmt"
)

// Error kinds surfaced by the node core. Network errors are retryable over
// different endpoints or peers; mixer and proof rejections are final.
var (
	ErrNetworkTimeout     = errors.New("network timeout")
	ErrNetworkRefused     = errors.New("network connection refused")
	ErrNetworkRateLimited = errors.New("network rate limited")

	ErrProtocolViolation = errors.New("protocol violation")

	ErrDoubleSpend      = errors.New("double spend")
	ErrUnknownRoot      = errors.New("unknown merkle root")
	ErrMissingProof     = errors.New("proof required in production")
	ErrPoolFull         = errors.New("mixer pool full")
	ErrAlreadyDeposited = errors.New("note already deposited")
	ErrNoteNotFound     = errors.New("note not found")

	ErrInvalidProof        = errors.New("invalid proof")
	ErrNullifierUsed       = errors.New("nullifier already used")
	ErrSystemUninitialized = errors.New("zk system not initialized")

	ErrStorageSerialization = errors.New("storage serialization failed")
	ErrStorageIO            = errors.New("storage io failure")
	ErrStorageIntegrity     = errors.New("storage integrity failure")

	ErrInvalidKey       = errors.New("invalid key")
	ErrInvalidSignature = errors.New("invalid signature")
	ErrKdfFailure       = errors.New("key derivation failed")
	ErrAeadFailure      = errors.New("authenticated encryption failed")

	ErrServiceCritical = errors.New("supervised task exceeded restart limits")

	ErrTreeFull       = errors.New("merkle tree full")
	ErrInvalidAddress = errors.New("invalid address")
	ErrShuttingDown   = errors.New("supervisor shutting down")
)

// wrapErr attaches context to a sentinel so callers can still match with
// errors.Is.
func wrapErr(kind error, format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", kind, fmt.Sprintf(format, args...))
}

package errors

import (
	"context"
	stderrors "errors"
	"fmt"
)

// Error kinds shared by the block store, the certifying role and both fetchers.
// Callers wrap them with fmt.Errorf("...: %w", ErrX) and test with Is.
var (
	// ErrOutOfOrder: a write skipped ahead of (or fell behind) the responsibility window.
	ErrOutOfOrder = stderrors.New("out of order")

	// ErrContentMismatch: persisted content differs from the supplied content.
	ErrContentMismatch = stderrors.New("content mismatch")

	// ErrGenesisMismatch: a candidate genesis is incompatible with the stored one.
	ErrGenesisMismatch = stderrors.New("genesis mismatch")

	// ErrNoGenesis: certificates cannot be accepted before a genesis is adopted.
	ErrNoGenesis = stderrors.New("genesis not set")

	// ErrVerificationFailure: a certificate from a peer failed signature or hash checks.
	ErrVerificationFailure = stderrors.New("certificate verification failed")

	// ErrUnavailable: transient network or storage failure.
	ErrUnavailable = stderrors.New("unavailable")

	// ErrNotYetAvailable: the remote side does not hold the requested item yet.
	ErrNotYetAvailable = stderrors.New("not yet available")

	// ErrCancelled: a suspension point observed cancellation.
	ErrCancelled = stderrors.New("cancelled")
)

func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

func As(err error, target interface{}) bool {
	return stderrors.As(err, target)
}

// Cancelled wraps a context error so that it matches both ErrCancelled and the original cause.
func Cancelled(cause error) error {
	return fmt.Errorf("%w: %w", ErrCancelled, cause)
}

// IsCancelled reports whether err stems from a cancelled or expired context.
func IsCancelled(err error) bool {
	return stderrors.Is(err, ErrCancelled) ||
		stderrors.Is(err, context.Canceled) ||
		stderrors.Is(err, context.DeadlineExceeded)
}

// IsFatal reports errors that must stop the calling role instead of being retried.
func IsFatal(err error) bool {
	return stderrors.Is(err, ErrContentMismatch) ||
		stderrors.Is(err, ErrGenesisMismatch) ||
		stderrors.Is(err, ErrOutOfOrder)
}

// IsRetryable reports transient conditions absorbed by fetcher retry loops.
func IsRetryable(err error) bool {
	return stderrors.Is(err, ErrUnavailable) ||
		stderrors.Is(err, ErrNotYetAvailable) ||
		stderrors.Is(err, ErrVerificationFailure)
}

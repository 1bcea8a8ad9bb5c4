package scrape

import (
	"errors"
	"fmt"
)

// Sentinel errors forming the failure taxonomy. Recoverable conditions
// (ErrNoCandidates, ErrNoUsableCandidate) are absorbed by the solve loop and
// consume one attempt; the rest are terminal for the run and propagate to the
// caller unchanged.
var (
	// ErrNoCandidates indicates every recognizer strategy returned nothing.
	ErrNoCandidates = errors.New("no recognizer candidates")

	// ErrNoUsableCandidate indicates candidates existed but none passed the
	// shape check.
	ErrNoUsableCandidate = errors.New("no usable candidate")

	// ErrCaptchaExhausted indicates the solve loop ran out of attempts.
	ErrCaptchaExhausted = errors.New("captcha attempts exhausted")

	// ErrNavigationFailed indicates the site was unreachable or returned an
	// unexpected page shape.
	ErrNavigationFailed = errors.New("navigation failed")

	// ErrSearchRejected indicates the site reported invalid search
	// parameters. Never retried: identical invalid input cannot succeed.
	ErrSearchRejected = errors.New("search rejected")
)

// ExhaustedError carries the attempt count so the caller can decide whether
// a later retry of the whole run is worthwhile.
type ExhaustedError struct {
	Attempts int
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("captcha attempts exhausted after %d attempts", e.Attempts)
}

// Is makes ExhaustedError match ErrCaptchaExhausted.
func (e *ExhaustedError) Is(target error) bool {
	return target == ErrCaptchaExhausted
}

package models

import "errors"

var (
	// ErrValidation marks a malformed snapshot or a search the participant is not allowed to run.
	ErrValidation = errors.New("validation error")

	// ErrNotWaiting is returned when the participant has no waiting pool entry.
	ErrNotWaiting = errors.New("participant is not waiting")

	// ErrInSession is returned when a participant with an open session tries to enqueue.
	ErrInSession = errors.New("participant already has an open session")

	// ErrAlreadySearching is returned when a search loop is already running for the participant.
	ErrAlreadySearching = errors.New("search already running")

	// ErrTransientStore wraps backing-store connectivity, contention and timeout failures.
	ErrTransientStore = errors.New("transient store error")

	// ErrServiceUnavailable is what callers see once transient retries are exhausted.
	ErrServiceUnavailable = errors.New("service unavailable")

	// ErrProfileNotFound is returned by profile sources for unknown participants.
	ErrProfileNotFound = errors.New("profile not found")

	// ErrRaceLost means the selected candidate was claimed or changed concurrently.
	// Never leaves the matching package.
	ErrRaceLost = errors.New("claim race lost")

	// ErrRecentlyPaired means the pair is still inside the anti-rematch window.
	// Never leaves the matching package.
	ErrRecentlyPaired = errors.New("pair is in cooldown")
)

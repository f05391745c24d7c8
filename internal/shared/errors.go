package shared

import "errors"

var (
	// ErrLockHeld indicates that another owner currently holds a distributed lock.
	ErrLockHeld = errors.New("lock held by another owner")
	// ErrLockLost indicates that a lock expired or was taken over before release.
	ErrLockLost = errors.New("lock lost before release")
)

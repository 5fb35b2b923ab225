package gallery

import "errors"

var (
	// ErrNotFound reports an unknown profile id.
	ErrNotFound = errors.New("profile not found")
	// ErrCollision reports a rename whose derived id already names a
	// different profile. The rename is rejected with no mutation.
	ErrCollision = errors.New("profile id collision")
	// ErrSelfMerge reports an attempt to merge a profile into itself.
	ErrSelfMerge = errors.New("cannot merge a profile into itself")
)

package domain

import "errors"

// ErrTokenTaken is returned when a freshly generated batch token
// collides with an existing batch. The caller regenerates the token
// and retries.
var ErrTokenTaken = errors.New("batch token already taken")

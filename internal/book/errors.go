package book

import "errors"

// ErrLevelCount is returned when a side does not hold exactly
// types.LevelsPerSide entries after a snapshot or delta is applied. It is a
// fatal state error for the session: the caller must abort and force a
// re-snapshot.
var ErrLevelCount = errors.New("book: side does not hold the required level count")

// ErrMissingSnapshot is returned when an update frame arrives before any
// snapshot has been applied.
var ErrMissingSnapshot = errors.New("book: update received before snapshot")

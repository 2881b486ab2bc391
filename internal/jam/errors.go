package jam

import "errors"

var (
	ErrSessionNotFound    = errors.New("session not found")
	ErrItemNotFound       = errors.New("song not found in queue")
	ErrQueueFull          = errors.New("queue is full")
	ErrQueueEmpty         = errors.New("queue is empty")
	ErrPermissionDenied   = errors.New("permission denied")
	ErrInvalidVote        = errors.New("invalid vote value")
	ErrCodeSpaceExhausted = errors.New("could not allocate a unique session code")
)

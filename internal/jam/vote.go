package jam

import "fmt"

// Vote is a single user's opinion on a queue item.
type Vote int8

const (
	NoVote   Vote = 0
	Upvote   Vote = 1
	Downvote Vote = -1
)

// ParseVote converts the wire value (-1, 0, 1) into a Vote.
func ParseVote(v int) (Vote, error) {
	switch v {
	case 1:
		return Upvote, nil
	case -1:
		return Downvote, nil
	case 0:
		return NoVote, nil
	}
	return NoVote, fmt.Errorf("%w: %d", ErrInvalidVote, v)
}

func (v Vote) String() string {
	switch v {
	case Upvote:
		return "up"
	case Downvote:
		return "down"
	}
	return "none"
}

package model

import "time"

// Status is the lifecycle state of a support request.
// Transitions only move forward: Pending -> Accepted -> Solved.
type Status string

const (
	StatusPending  Status = "Pending"
	StatusAccepted Status = "Accepted"
	StatusSolved   Status = "Solved"
)

// Topics is the fixed set a requester picks from.
var Topics = []string{
	"Hardware Issue",
	"Software Issue",
	"Network Issue",
	"Access Request",
	"Other",
}

// ValidTopic reports whether topic is one of the fixed set.
func ValidTopic(topic string) bool {
	for _, t := range Topics {
		if t == topic {
			return true
		}
	}
	return false
}

// Request is a support ticket. Name, Department and Floor are a snapshot of
// the requester's profile at submission time. AcceptedBy is non-empty exactly
// when Status is Accepted or Solved.
type Request struct {
	RequestID   string
	UserID      int64
	Name        string
	Department  string
	Floor       string
	Topic       string
	Description string
	CreatedAt   time.Time
	Status      Status
	AcceptedBy  string
}

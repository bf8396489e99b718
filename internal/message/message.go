package message

import (
	"errors"
	"fmt"
	"time"

	"github.com/Avicted/courier/internal/user"
)

type ID string

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrNotFound     = errors.New("not found")
)

// Message is one chat message as seen by one of its participants. The same
// ID is shared by the sender's and the recipient's copy.
type Message struct {
	ID      ID
	FromID  user.ID
	ToID    user.ID
	Content Content
	SentAt  time.Time
	Read    bool
}

// Counterpart returns the other participant relative to local.
func (m Message) Counterpart(local user.ID) user.ID {
	if m.FromID == local {
		return m.ToID
	}
	return m.FromID
}

func (m Message) IsFromUser(local user.ID) bool {
	return m.FromID == local
}

// Involves reports whether id is the sender or the recipient.
func (m Message) Involves(id user.ID) bool {
	return id != "" && (m.FromID == id || m.ToID == id)
}

func (m Message) Validate() error {
	switch {
	case m.ID == "":
		return fmt.Errorf("%w: missing id", ErrInvalidInput)
	case m.FromID == "":
		return fmt.Errorf("%w: missing sender", ErrInvalidInput)
	case m.ToID == "":
		return fmt.Errorf("%w: missing recipient", ErrInvalidInput)
	case m.SentAt.IsZero():
		return fmt.Errorf("%w: missing send time", ErrInvalidInput)
	}
	return m.Content.Validate()
}

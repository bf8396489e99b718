// Package inbox keeps the local conversation list: one summary per
// counterpart, newest first, reconciled from a stream of remote changes.
package inbox

import (
	"context"

	"github.com/Avicted/courier/internal/message"
	"github.com/Avicted/courier/internal/user"
)

type ChangeKind string

const (
	Added    ChangeKind = "added"
	Modified ChangeKind = "modified"
)

func (k ChangeKind) Valid() bool {
	return k == Added || k == Modified
}

// ChangeEvent is one remote notification about a recent-conversation entry.
type ChangeEvent struct {
	Kind    ChangeKind
	Message message.Message
}

// Summary is the latest message exchanged with one counterpart.
type Summary struct {
	Counterpart user.ID
	Message     message.Message
}

// ChangeSource delivers batches of change events for the signed-in user.
type ChangeSource interface {
	Subscribe(ctx context.Context) (Stream, error)
}

// Stream is a live subscription. Batches is closed when the stream ends.
type Stream interface {
	Batches() <-chan []ChangeEvent
	Close() error
}

type IdentityProvider interface {
	CurrentUserID() user.ID
}

// Deleter removes a conversation on the remote side.
type Deleter interface {
	DeleteConversation(ctx context.Context, counterpart user.ID) error
}

// Identity is a fixed IdentityProvider.
type Identity user.ID

func (i Identity) CurrentUserID() user.ID {
	return user.ID(i)
}

package message

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Avicted/courier/internal/user"
	"github.com/google/uuid"
)

const maxHistoryLimit = 50

// RecentChange reports that the recent-conversation entry an owner keeps for
// Message.Counterpart(Owner) was created or replaced.
type RecentChange struct {
	Owner   user.ID
	Created bool
	Message Message
}

// Delivered reports which recent entries a delivery created rather than
// replaced.
type Delivered struct {
	SenderCreated    bool
	RecipientCreated bool
}

type Repository interface {
	// Deliver stores both copies and upserts both owners' recent entries.
	Deliver(ctx context.Context, senderCopy, recipientCopy Message) (Delivered, error)
	ListConversation(ctx context.Context, owner, partner user.ID, limit int) ([]Message, error)
	ListRecent(ctx context.Context, owner user.ID) ([]Message, error)
	// MarkRead flags the owner's copies and recent entry as read. It returns
	// the recent entry and whether anything changed.
	MarkRead(ctx context.Context, owner, partner user.ID) (Message, bool, error)
	DeleteConversation(ctx context.Context, owner, partner user.ID) error
}

// Publisher fans changes out to connected clients.
type Publisher interface {
	PublishRecent(ctx context.Context, changes []RecentChange)
	PublishMessage(ctx context.Context, owner user.ID, msg Message)
}

type Service struct {
	repo      Repository
	users     *user.Service
	publisher Publisher
	idGen     func() ID
	now       func() time.Time
}

func NewService(repo Repository, users *user.Service) *Service {
	return &Service{
		repo:  repo,
		users: users,
		idGen: func() ID { return ID(uuid.NewString()) },
		now:   time.Now,
	}
}

// SetPublisher wires the fan-out target. It must be called before the
// service is shared.
func (s *Service) SetPublisher(p Publisher) {
	s.publisher = p
}

func (s *Service) Send(ctx context.Context, from, to user.ID, content Content) (Message, error) {
	if s.repo == nil {
		return Message{}, errors.New("repository is required")
	}
	if from == "" || to == "" || from == to {
		return Message{}, ErrInvalidInput
	}
	if err := content.Validate(); err != nil {
		return Message{}, err
	}
	if s.users != nil {
		if _, err := s.users.GetByID(ctx, to); err != nil {
			return Message{}, fmt.Errorf("recipient: %w", ErrNotFound)
		}
	}

	// Stored timestamps keep microseconds, so live frames must not carry more.
	sent := Message{
		ID:      s.idGen(),
		FromID:  from,
		ToID:    to,
		Content: content,
		SentAt:  s.now().UTC().Truncate(time.Microsecond),
	}
	senderCopy := sent
	senderCopy.Read = true
	recipientCopy := sent

	delivered, err := s.repo.Deliver(ctx, senderCopy, recipientCopy)
	if err != nil {
		return Message{}, err
	}

	if s.publisher != nil {
		s.publisher.PublishRecent(ctx, []RecentChange{
			{Owner: from, Created: delivered.SenderCreated, Message: senderCopy},
			{Owner: to, Created: delivered.RecipientCreated, Message: recipientCopy},
		})
		s.publisher.PublishMessage(ctx, from, senderCopy)
		s.publisher.PublishMessage(ctx, to, recipientCopy)
	}
	return senderCopy, nil
}

func (s *Service) MarkRead(ctx context.Context, owner, partner user.ID) error {
	if s.repo == nil {
		return errors.New("repository is required")
	}
	if owner == "" || partner == "" {
		return ErrInvalidInput
	}
	recent, changed, err := s.repo.MarkRead(ctx, owner, partner)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	}
	if changed && s.publisher != nil {
		s.publisher.PublishRecent(ctx, []RecentChange{{Owner: owner, Message: recent}})
	}
	return nil
}

func (s *Service) DeleteConversation(ctx context.Context, owner, partner user.ID) error {
	if s.repo == nil {
		return errors.New("repository is required")
	}
	if owner == "" || partner == "" {
		return ErrInvalidInput
	}
	return s.repo.DeleteConversation(ctx, owner, partner)
}

// ListConversation returns up to limit of the newest messages between owner
// and partner, oldest first.
func (s *Service) ListConversation(ctx context.Context, owner, partner user.ID, limit int) ([]Message, error) {
	if s.repo == nil {
		return nil, errors.New("repository is required")
	}
	if owner == "" || partner == "" {
		return nil, ErrInvalidInput
	}
	if limit <= 0 || limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	return s.repo.ListConversation(ctx, owner, partner, limit)
}

// ListRecent returns the owner's latest message per counterpart, newest first.
func (s *Service) ListRecent(ctx context.Context, owner user.ID) ([]Message, error) {
	if s.repo == nil {
		return nil, errors.New("repository is required")
	}
	if owner == "" {
		return nil, ErrInvalidInput
	}
	return s.repo.ListRecent(ctx, owner)
}

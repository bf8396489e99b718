package inbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Avicted/courier/internal/logger"
	"github.com/Avicted/courier/internal/securelog"
	"github.com/Avicted/courier/internal/user"
)

var ErrStopped = errors.New("inbox owner stopped")

type deleteRequest struct {
	counterpart user.ID
	reply       chan ListDelta
}

// Owner runs a Reconciler on a single goroutine, feeding it from a
// ChangeSource and serving requests from other goroutines.
type Owner struct {
	rec       *Reconciler
	src       ChangeSource
	del       Deleter
	logger    *slog.Logger
	deletes   chan deleteRequest
	snapshots chan chan []Summary
	subscribe chan chan *Subscription
	stopped   chan struct{}
}

func NewOwner(rec *Reconciler, src ChangeSource, del Deleter, l *slog.Logger) *Owner {
	return &Owner{
		rec:       rec,
		src:       src,
		del:       del,
		logger:    logger.OrDiscard(l),
		deletes:   make(chan deleteRequest),
		snapshots: make(chan chan []Summary),
		subscribe: make(chan chan *Subscription),
		stopped:   make(chan struct{}),
	}
}

// Run subscribes to the change source and applies its batches until ctx is
// cancelled or the stream ends. It must be called once.
func (o *Owner) Run(ctx context.Context) error {
	defer close(o.stopped)
	if o.rec == nil || o.src == nil {
		return errors.New("reconciler and change source are required")
	}
	defer o.rec.closeSubscriptions()

	stream, err := o.src.Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	defer func() {
		if err := stream.Close(); err != nil {
			securelog.Error(o.logger, "inbox.unsubscribe", err)
		}
	}()

	batches := stream.Batches()
	for {
		select {
		case <-ctx.Done():
			return nil
		case batch, ok := <-batches:
			if !ok {
				o.logger.Info("inbox: change stream ended")
				return nil
			}
			delta := o.rec.Ingest(batch)
			o.logger.Debug("inbox: batch applied",
				"events", len(batch),
				"removed", len(delta.Removed),
				"inserted", len(delta.Inserted),
				"updated", len(delta.Updated))
		case req := <-o.deletes:
			req.reply <- o.rec.Delete(req.counterpart)
		case reply := <-o.snapshots:
			reply <- o.rec.List()
		case reply := <-o.subscribe:
			reply <- o.rec.Subscribe()
		}
	}
}

// Delete removes the conversation locally, then asks the Deleter to remove
// it remotely. A remote failure is returned but the local removal stands.
func (o *Owner) Delete(ctx context.Context, counterpart user.ID) error {
	if counterpart == "" {
		return errors.New("counterpart is required")
	}
	reply := make(chan ListDelta, 1)
	select {
	case o.deletes <- deleteRequest{counterpart: counterpart, reply: reply}:
	case <-o.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-reply:
	case <-ctx.Done():
		return ctx.Err()
	}

	if o.del == nil {
		return nil
	}
	if err := o.del.DeleteConversation(ctx, counterpart); err != nil {
		return fmt.Errorf("remote delete: %w", err)
	}
	return nil
}

func (o *Owner) Snapshot(ctx context.Context) ([]Summary, error) {
	reply := make(chan []Summary, 1)
	select {
	case o.snapshots <- reply:
	case <-o.stopped:
		return nil, ErrStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case list := <-reply:
		return list, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (o *Owner) Subscribe(ctx context.Context) (*Subscription, error) {
	reply := make(chan *Subscription, 1)
	select {
	case o.subscribe <- reply:
	case <-o.stopped:
		return nil, ErrStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case sub := <-reply:
		return sub, nil
	case <-ctx.Done():
		// the owner still delivers; release it
		go func() { (<-reply).Close() }()
		return nil, ctx.Err()
	}
}

// Done is closed when Run returns.
func (o *Owner) Done() <-chan struct{} {
	return o.stopped
}

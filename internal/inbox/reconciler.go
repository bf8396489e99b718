package inbox

import (
	"log/slog"
	"sort"

	"github.com/Avicted/courier/internal/logger"
	"github.com/Avicted/courier/internal/message"
	"github.com/Avicted/courier/internal/user"
)

// Reconciler maintains the ordered conversation list. It does no I/O and no
// locking; every call must come from the same goroutine (see Owner).
type Reconciler struct {
	identity IdentityProvider
	list     []Summary
	logger   *slog.Logger
	subs     *subscribers
}

type Option func(*Reconciler)

func WithLogger(l *slog.Logger) Option {
	return func(r *Reconciler) {
		r.logger = l
	}
}

func New(identity IdentityProvider, opts ...Option) *Reconciler {
	r := &Reconciler{
		identity: identity,
		subs:     newSubscribers(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = logger.OrDiscard(r.logger)
	return r
}

// Ingest applies a batch of change events in order and returns how the list
// changed. Malformed events are skipped.
func (r *Reconciler) Ingest(batch []ChangeEvent) ListDelta {
	if len(batch) == 0 {
		return ListDelta{}
	}
	before := r.List()
	for i, ev := range batch {
		r.apply(i, ev)
	}
	return r.commit(before)
}

// Delete removes the summary for counterpart. Absent counterparts yield an
// empty delta.
func (r *Reconciler) Delete(counterpart user.ID) ListDelta {
	pos := r.indexOf(counterpart)
	if pos < 0 {
		return ListDelta{}
	}
	before := r.List()
	r.removeAt(pos)
	return r.commit(before)
}

// List returns a copy of the current list, newest first.
func (r *Reconciler) List() []Summary {
	out := make([]Summary, len(r.list))
	copy(out, r.list)
	return out
}

func (r *Reconciler) Len() int {
	return len(r.list)
}

func (r *Reconciler) Get(counterpart user.ID) (Summary, bool) {
	pos := r.indexOf(counterpart)
	if pos < 0 {
		return Summary{}, false
	}
	return r.list[pos], true
}

// Subscribe registers an observer. The current list is delivered first.
func (r *Reconciler) Subscribe() *Subscription {
	return r.subs.add(r.List())
}

func (r *Reconciler) closeSubscriptions() {
	r.subs.closeAll()
}

func (r *Reconciler) commit(before []Summary) ListDelta {
	delta := diff(before, r.list)
	if !delta.Empty() {
		r.subs.publish(r.List(), delta)
	}
	return delta
}

func (r *Reconciler) apply(i int, ev ChangeEvent) {
	local := r.currentUser()
	if !ev.Kind.Valid() {
		r.logger.Warn("inbox: skipping event with unknown kind", "index", i, "kind", string(ev.Kind))
		return
	}
	if err := ev.Message.Validate(); err != nil {
		r.logger.Warn("inbox: skipping malformed event", "index", i, "reason", err.Error())
		return
	}
	if !ev.Message.Involves(local) || ev.Message.FromID == ev.Message.ToID {
		r.logger.Warn("inbox: skipping event for another user", "index", i, "message_id", string(ev.Message.ID))
		return
	}

	counterpart := ev.Message.Counterpart(local)
	next := Summary{Counterpart: counterpart, Message: ev.Message}
	pos := r.indexOf(counterpart)

	if pos < 0 {
		if ev.Kind == Modified {
			r.logger.Debug("inbox: dropping modification for unknown conversation", "index", i)
			return
		}
		r.insert(next)
		return
	}

	current := r.list[pos].Message
	if ev.Message.SentAt.Before(current.SentAt) {
		r.logger.Debug("inbox: ignoring stale event", "index", i, "kind", string(ev.Kind))
		return
	}
	if ev.Kind == Added {
		if sameMessage(current, ev.Message) {
			return
		}
		if ev.Message.SentAt.Equal(current.SentAt) {
			r.list[pos] = next
			return
		}
	}
	r.removeAt(pos)
	r.insert(next)
}

func (r *Reconciler) currentUser() user.ID {
	if r.identity == nil {
		return ""
	}
	return r.identity.CurrentUserID()
}

// insert places s before every summary that is not newer than it, so the
// most recently touched of equally timed conversations comes first.
func (r *Reconciler) insert(s Summary) {
	at := s.Message.SentAt
	pos := sort.Search(len(r.list), func(j int) bool {
		return !r.list[j].Message.SentAt.After(at)
	})
	r.list = append(r.list, Summary{})
	copy(r.list[pos+1:], r.list[pos:])
	r.list[pos] = s
}

func (r *Reconciler) removeAt(pos int) {
	r.list = append(r.list[:pos], r.list[pos+1:]...)
}

func (r *Reconciler) indexOf(counterpart user.ID) int {
	for i, s := range r.list {
		if s.Counterpart == counterpart {
			return i
		}
	}
	return -1
}

func sameMessage(a, b message.Message) bool {
	return a.ID == b.ID &&
		a.FromID == b.FromID &&
		a.ToID == b.ToID &&
		a.Read == b.Read &&
		a.SentAt.Equal(b.SentAt) &&
		a.Content.Equal(b.Content)
}

package inbox

import "sync"

// Update is delivered to subscribers after every change to the list.
type Update struct {
	Seq   uint64
	List  []Summary
	Delta ListDelta
}

// Subscription receives list updates. Only the latest undelivered update is
// kept; a receiver that sees a gap in Seq should redraw from List instead of
// applying Delta.
type Subscription struct {
	ch     chan Update
	owner  *subscribers
	closed bool
}

func (s *Subscription) Updates() <-chan Update {
	return s.ch
}

// Close stops delivery and closes the Updates channel. It is safe to call
// more than once and from any goroutine.
func (s *Subscription) Close() {
	s.owner.remove(s)
}

type subscribers struct {
	mu   sync.Mutex
	seq  uint64
	subs map[*Subscription]struct{}
}

func newSubscribers() *subscribers {
	return &subscribers{subs: make(map[*Subscription]struct{})}
}

func (s *subscribers) add(list []Summary) *Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub := &Subscription{ch: make(chan Update, 1), owner: s}
	sub.ch <- Update{Seq: s.seq, List: list}
	s.subs[sub] = struct{}{}
	return sub
}

func (s *subscribers) remove(sub *Subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sub.closed {
		return
	}
	sub.closed = true
	delete(s.subs, sub)
	close(sub.ch)
}

func (s *subscribers) closeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for sub := range s.subs {
		sub.closed = true
		close(sub.ch)
	}
	clear(s.subs)
}

func (s *subscribers) publish(list []Summary, delta ListDelta) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	u := Update{Seq: s.seq, List: list, Delta: delta}
	for sub := range s.subs {
		deliver(sub.ch, u)
	}
}

// deliver never blocks: a pending update the receiver has not taken yet is
// replaced.
func deliver(ch chan Update, u Update) {
	select {
	case ch <- u:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- u:
	default:
	}
}

package feed

import (
	"sync"

	"github.com/google/uuid"
)

// Subscription is a live stream of events for one conversation.
//
// Events are queued without bound so a slow consumer never blocks publishers and
// never loses an event; Close is idempotent and closes the Events channel.
type Subscription struct {
	id             string
	conversationID int64

	mu      sync.Mutex
	pending []Event
	notify  chan struct{}

	out       chan Event
	done      chan struct{}
	closeOnce sync.Once
	onClose   func()
	wg        sync.WaitGroup
}

func newSubscription(conversationID int64, onClose func()) *Subscription {
	s := &Subscription{
		id:             uuid.NewString(),
		conversationID: conversationID,
		notify:         make(chan struct{}, 1),
		out:            make(chan Event),
		done:           make(chan struct{}),
		onClose:        onClose,
	}
	s.wg.Add(1)
	go s.pump()
	return s
}

// ID uniquely identifies the subscription.
func (s *Subscription) ID() string {
	return s.id
}

// ConversationID is the scope of the subscription.
func (s *Subscription) ConversationID() int64 {
	return s.conversationID
}

// Events yields change events in publish order until the subscription closes.
func (s *Subscription) Events() <-chan Event {
	return s.out
}

// Close releases the subscription. Safe to call more than once.
func (s *Subscription) Close() {
	s.closeOnce.Do(s.shutdown)
	s.wg.Wait()
}

func (s *Subscription) shutdown() {
	close(s.done)
	if s.onClose != nil {
		s.onClose()
	}
}

func (s *Subscription) push(event Event) {
	select {
	case <-s.done:
		return
	default:
	}

	s.mu.Lock()
	s.pending = append(s.pending, event)
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *Subscription) pump() {
	defer s.wg.Done()
	defer close(s.out)

	for {
		s.mu.Lock()
		batch := s.pending
		s.pending = nil
		s.mu.Unlock()

		for _, event := range batch {
			if event.Kind == kindClosed {
				s.closeOnce.Do(s.shutdown)
				return
			}
			select {
			case s.out <- event:
			case <-s.done:
				return
			}
		}

		select {
		case <-s.notify:
		case <-s.done:
			return
		}
	}
}

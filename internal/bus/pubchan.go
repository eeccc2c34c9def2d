package bus

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/nextlevelbuilder/minds/pkg/protocol"
)

// ErrEndOfStream is returned by SubChan reads once the publisher has
// closed and all buffered events are drained.
var ErrEndOfStream = errors.New("bus: end of stream")

// subQueueSize bounds each subscriber's delivery queue. A subscriber
// that falls further behind than this loses events and receives a
// single stream_overflow_evt when it catches up.
const subQueueSize = 64

// PubChan is the publish side of one dialog's event channel. Writes
// never block on slow subscribers.
type PubChan struct {
	mu     sync.Mutex
	subs   []*SubChan
	closed bool
}

// NewPubChan creates an open publish channel with no subscribers.
func NewPubChan() *PubChan {
	return &PubChan{}
}

// Subscribe attaches a new subscriber. Events written after this call
// are delivered in publish order. Returns nil if the channel is
// already closed.
func (p *PubChan) Subscribe() *SubChan {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	s := &SubChan{
		ch:     make(chan Event, subQueueSize),
		parent: p,
	}
	p.subs = append(p.subs, s)
	return s
}

// Write fans the event out to all live subscribers. Full subscriber
// queues drop the event and record the loss.
func (p *PubChan) Write(evt Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	for _, s := range p.subs {
		select {
		case s.ch <- evt:
		default:
			s.noteDrop()
		}
	}
}

// Close ends the stream. Subscribers drain their queues and then see
// ErrEndOfStream.
func (p *PubChan) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	for _, s := range p.subs {
		close(s.ch)
	}
	p.subs = nil
}

func (p *PubChan) unsubscribe(target *SubChan) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	for i, s := range p.subs {
		if s == target {
			p.subs = append(p.subs[:i], p.subs[i+1:]...)
			close(s.ch)
			return
		}
	}
}

// SubChan is a cancellable iterator over one dialog's events.
type SubChan struct {
	ch     chan Event
	parent *PubChan

	dropMu  sync.Mutex
	dropped int

	cancelOnce sync.Once
}

func (s *SubChan) noteDrop() {
	s.dropMu.Lock()
	s.dropped++
	s.dropMu.Unlock()
}

// takeOverflow returns a synthesized overflow event if deliveries were
// dropped since the last read, resetting the counter.
func (s *SubChan) takeOverflow() (Event, bool) {
	s.dropMu.Lock()
	defer s.dropMu.Unlock()
	if s.dropped == 0 {
		return Event{}, false
	}
	n := s.dropped
	s.dropped = 0
	evt := New(protocol.EventStreamOverflow)
	evt.DroppedCount = n
	return evt, true
}

// Next returns the next event, blocking until one is available, the
// context is done, or the stream ends (ErrEndOfStream).
func (s *SubChan) Next(ctx context.Context) (Event, error) {
	if evt, ok := s.takeOverflow(); ok {
		return evt, nil
	}
	select {
	case evt, ok := <-s.ch:
		if !ok {
			return Event{}, ErrEndOfStream
		}
		return evt, nil
	case <-ctx.Done():
		return Event{}, ctx.Err()
	}
}

// Pull returns the next event, waiting at most timeout.
func (s *SubChan) Pull(timeout time.Duration) (Event, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return s.Next(ctx)
}

// Cancel detaches the subscriber from its publisher. Further reads
// drain buffered events and then return ErrEndOfStream.
func (s *SubChan) Cancel() {
	s.cancelOnce.Do(func() {
		s.parent.unsubscribe(s)
	})
}

// Copyright 2025 The saplcore Authors.
// Use of this source code is governed by an Apache-2.0
// license that can be found in the LICENSE file.

package attribute

import (
	"context"
	"sync"
	"time"

	"github.com/saplcore/pdp/value"
)

// station is one live upstream: a single finder invocation (or repeated
// poll cycle) multiplexed to every subscriber attached to it. Every send to
// and close of a subscriber channel (run's broadcasts, subscribe's replay,
// unsubscribe's close) happens under station.mu, so subscribers observe
// station order with no interleaving (spec.md §5).
type station struct {
	key      Key
	finder   *Finder
	entity   value.Value
	hasEntity bool
	args     []value.Value
	vars     map[string]value.Value
	timing   TimingParams

	mu          sync.Mutex
	subscribers map[uint64]chan value.Value
	nextSubID   uint64
	refCount    int
	lastValue   value.Value
	hasValue    bool
	lingerTimer *time.Timer

	cancel  context.CancelFunc
	done    chan struct{}
	onEmpty func(k Key) // invoked (outside station.mu) when refCount drops to 0 and linger elapses
}

const subscriberBuffer = 16

func newStation(ctx context.Context, key Key, finder *Finder, entity value.Value, hasEntity bool, args []value.Value, vars map[string]value.Value, timing TimingParams, onEmpty func(Key)) *station {
	runCtx, cancel := context.WithCancel(ctx)
	s := &station{
		key: key, finder: finder, entity: entity, hasEntity: hasEntity,
		args: args, vars: vars, timing: timing,
		subscribers: map[uint64]chan value.Value{},
		cancel:      cancel, done: make(chan struct{}), onEmpty: onEmpty,
	}
	go s.run(runCtx)
	return s
}

// subscribe attaches a new subscriber, replaying the last cached value (if
// any) immediately. Returns the subscriber's channel and its id (used to
// unsubscribe).
func (s *station) subscribe() (uint64, chan value.Value) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lingerTimer != nil {
		s.lingerTimer.Stop()
		s.lingerTimer = nil
	}
	id := s.nextSubID
	s.nextSubID++
	ch := make(chan value.Value, subscriberBuffer)
	s.subscribers[id] = ch
	s.refCount++
	if s.hasValue {
		// Buffered send: subscriberBuffer always has room right after
		// creation, so this never blocks the subscribe call.
		ch <- s.lastValue
	}
	return id, ch
}

// unsubscribe detaches a subscriber. When refCount reaches zero, starts (or
// immediately fires, if linger==0) the eviction timer.
func (s *station) unsubscribe(id uint64, linger time.Duration) {
	s.mu.Lock()
	if ch, ok := s.subscribers[id]; ok {
		delete(s.subscribers, id)
		close(ch)
	}
	// closeAll may already have dropped the channel when the upstream ended;
	// the subscription still held a reference until now.
	s.refCount--
	empty := s.refCount == 0
	s.mu.Unlock()

	if !empty {
		return
	}
	if linger <= 0 {
		s.evict()
		return
	}
	s.mu.Lock()
	if s.lingerTimer != nil {
		s.lingerTimer.Stop()
	}
	s.lingerTimer = time.AfterFunc(linger, s.evict)
	s.mu.Unlock()
}

func (s *station) evict() {
	s.mu.Lock()
	stillEmpty := s.refCount == 0
	s.mu.Unlock()
	if !stillEmpty {
		return
	}
	s.cancel()
	if s.onEmpty != nil {
		s.onEmpty(s.key)
	}
}

// broadcast delivers v to every current subscriber and caches it as the
// last value for future subscribers, unless this is a private (fresh)
// station, in which case caching is disabled per spec.md's "never cache"
// resolution of the fresh-sharing open question.
func (s *station) broadcast(v value.Value) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.timing.Fresh {
		s.lastValue = v
		s.hasValue = true
	}
	for _, ch := range s.subscribers {
		select {
		case ch <- v:
		default:
			// A slow subscriber drops the oldest pending value rather than
			// stalling the station's single writer goroutine and, with it,
			// every other subscriber's ordering guarantee.
			select {
			case <-ch:
			default:
			}
			ch <- v
		}
	}
}

func (s *station) closeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, ch := range s.subscribers {
		close(ch)
		delete(s.subscribers, id)
	}
}

// run drives the finder: push-driven finders are forwarded verbatim;
// poll-driven finders are invoked on PollInterval with retry/backoff on
// failure (spec.md §4.3).
func (s *station) run(ctx context.Context) {
	defer close(s.done)
	defer s.closeAll()

	if s.finder.Stream != nil {
		s.runPush(ctx)
		return
	}
	s.runPoll(ctx)
}

func (s *station) runPush(ctx context.Context) {
	events, err := s.finder.Stream(ctx, s.entity, s.hasEntity, s.args, s.vars)
	if err != nil {
		s.broadcast(value.Errorf("attribute upstream: %v", err))
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			s.broadcast(ev.Value)
			if ev.Terminal {
				return
			}
		}
	}
}

func (s *station) runPoll(ctx context.Context) {
	attempt := 0
	for {
		v, err := s.finder.Poll(ctx, s.entity, s.hasEntity, s.args, s.vars)
		if ctx.Err() != nil {
			return
		}
		if err == nil {
			attempt = 0
			s.broadcast(v)
		} else {
			s.broadcast(value.Errorf("attribute upstream: %v", err))
			attempt++
			if attempt > s.timing.Retries {
				// Terminal failure: the station ends (spec.md §4.3,
				// "final failure emits Error and terminates the station").
				return
			}
			if !sleep(ctx, s.timing.cappedBackoff(attempt-1)) {
				return
			}
			continue
		}
		if s.timing.PollInterval <= 0 {
			return
		}
		if !sleep(ctx, s.timing.PollInterval) {
			return
		}
	}
}

// sleep waits for d or ctx cancellation, returning false on cancellation.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		select {
		case <-ctx.Done():
			return false
		default:
			return true
		}
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
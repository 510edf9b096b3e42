/*
Package notify delivers outbound notification events.

PURPOSE:
  Decouples notification delivery from the reservation commit path. The
  Dispatcher is a bounded in-process outbound queue: Publish enqueues and
  returns immediately, a background worker hands events to a Sink, and
  delivery failures are logged and dropped - they never surface to the
  engine and never affect a committed reservation.

DESIGN:
  - Publish never blocks: when the queue is full the event is dropped
    and logged. Reservation latency must not depend on delivery latency.
  - One worker goroutine; Stop() drains the queue before returning.
  - Sink abstracts the actual channel (message broker, email fan-out).
    LogSink stands in when no broker is configured.

USAGE:
  d := notify.NewDispatcher(sink, 64, logger)
  d.Start()
  defer d.Stop()
  engine := reserve.NewEngine(repo, offers, d, router, logger)
*/
package notify

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
	"github.com/warp/allocation-engine/reserve"
)

// Sink receives events from the dispatcher. Implementations own their
// retry policy; the dispatcher itself never retries.
type Sink interface {
	Deliver(ctx context.Context, event reserve.Event) error
}

// =============================================================================
// DISPATCHER
// =============================================================================

// Dispatcher implements reserve.Notifier over a bounded queue.
type Dispatcher struct {
	sink  Sink
	queue chan reserve.Event
	log   zerolog.Logger

	wg      sync.WaitGroup
	mu      sync.Mutex
	started bool
	stopped bool
}

// NewDispatcher creates a dispatcher with the given queue capacity.
func NewDispatcher(sink Sink, buffer int, log zerolog.Logger) *Dispatcher {
	if buffer <= 0 {
		buffer = 64
	}
	return &Dispatcher{
		sink:  sink,
		queue: make(chan reserve.Event, buffer),
		log:   log,
	}
}

// Start launches the delivery worker.
func (d *Dispatcher) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.started {
		return
	}
	d.started = true

	d.wg.Add(1)
	go d.run()
}

// Stop closes the queue and waits for the worker to drain it.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if !d.started || d.stopped {
		d.mu.Unlock()
		return
	}
	d.stopped = true
	close(d.queue)
	d.mu.Unlock()

	d.wg.Wait()
}

// Publish enqueues an event without blocking. Events published after
// Stop, or when the queue is full, are dropped and logged.
func (d *Dispatcher) Publish(_ context.Context, event reserve.Event) {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		d.log.Warn().Str("event", event.Name).Str("event_id", event.ID).Msg("dispatcher stopped, event dropped")
		return
	}
	d.mu.Unlock()

	select {
	case d.queue <- event:
	default:
		d.log.Warn().Str("event", event.Name).Str("event_id", event.ID).Msg("notification queue full, event dropped")
	}
}

func (d *Dispatcher) run() {
	defer d.wg.Done()

	for event := range d.queue {
		if err := d.sink.Deliver(context.Background(), event); err != nil {
			d.log.Error().Err(err).
				Str("event", event.Name).
				Str("event_id", event.ID).
				Str("member_id", string(event.Member)).
				Msg("notification delivery failed")
			continue
		}
		d.log.Debug().Str("event", event.Name).Str("event_id", event.ID).Msg("notification delivered")
	}
}

// =============================================================================
// SINKS
// =============================================================================

// LogSink logs events instead of delivering them. Default when no
// broker is configured.
type LogSink struct {
	Log zerolog.Logger
}

func (s *LogSink) Deliver(_ context.Context, event reserve.Event) error {
	s.Log.Info().
		Str("event", event.Name).
		Str("event_id", event.ID).
		Str("member_id", string(event.Member)).
		Interface("payload", event.Payload).
		Msg("notification")
	return nil
}

// MemorySink records events for tests.
type MemorySink struct {
	mu     sync.Mutex
	events []reserve.Event

	// Err, when set, is returned by every Deliver call.
	Err error
}

func (s *MemorySink) Deliver(_ context.Context, event reserve.Event) error {
	if s.Err != nil {
		return s.Err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

// Events returns a copy of the recorded events.
func (s *MemorySink) Events() []reserve.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]reserve.Event, len(s.events))
	copy(out, s.events)
	return out
}

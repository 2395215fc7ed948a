// Package worker runs the background ingestion fiber that batches messages
// and hands them to the Transport (spec §4.6).
package worker

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/posthog/posthog-go-core/internal/batch"
	"github.com/posthog/posthog-go-core/internal/metrics"
	"github.com/posthog/posthog-go-core/internal/model"
	"github.com/posthog/posthog-go-core/internal/transport"
)

// Control messages sent on the small control channel.
type Control int

const (
	Flush Control = iota
	Shutdown
)

// State is the Worker's lifecycle state.
type State int32

const (
	Idle State = iota
	Running
	Draining
	Stopped
)

// ErrorFunc reports a non-fatal error the caller should surface; code -1 is
// used for local (non-HTTP) failures per spec §4.7.
type ErrorFunc func(code int, message string)

// Config configures a Worker.
type Config struct {
	Transport   *transport.Transport
	APIKey      string
	MaxBatch    int
	MaxBytes    int
	Messages    <-chan model.Message
	Control     <-chan Control
	OnDequeue   func() // decrements the shared queue-depth counter
	OnError     ErrorFunc
	Logger      *slog.Logger
	Metrics     *metrics.Metrics
}

// Worker owns the batching loop. Exactly one goroutine should call Run.
type Worker struct {
	cfg   Config
	state atomic.Int32
}

// New returns a Worker in the Idle state.
func New(cfg Config) *Worker {
	if cfg.OnError == nil {
		cfg.OnError = func(int, string) {}
	}
	if cfg.OnDequeue == nil {
		cfg.OnDequeue = func() {}
	}
	w := &Worker{cfg: cfg}
	w.state.Store(int32(Idle))
	return w
}

// State returns the Worker's current lifecycle state.
func (w *Worker) State() State {
	return State(w.state.Load())
}

// Run drives the select loop until a Shutdown control message is received.
// It is intended to run on its own goroutine for the lifetime of the Client.
func (w *Worker) Run(ctx context.Context) {
	w.state.Store(int32(Running))
	b := batch.New(w.cfg.MaxBatch, w.cfg.MaxBytes)

	for {
		select {
		case msg, ok := <-w.cfg.Messages:
			if !ok {
				w.drainAndStop(ctx, b)
				return
			}
			w.cfg.OnDequeue()
			w.handleMessage(ctx, b, msg)

		case ctrl, ok := <-w.cfg.Control:
			if !ok {
				w.drainAndStop(ctx, b)
				return
			}
			switch ctrl {
			case Flush:
				w.drainQueued(ctx, b)
			case Shutdown:
				w.state.Store(int32(Draining))
				w.drainAndStop(ctx, b)
				return
			}
		}
	}
}

func (w *Worker) handleMessage(ctx context.Context, b *batch.Batch, msg model.Message) {
	outcome, err := b.Add(msg)
	switch outcome {
	case batch.Added:
		if err != nil {
			w.cfg.OnError(-1, "encode message: "+err.Error())
			return
		}
		if b.Full() {
			w.flushBatch(ctx, b)
		}
	case batch.BatchFull:
		w.flushBatch(ctx, b)
		outcome, err = b.Add(msg)
		if outcome == batch.MessageTooLarge {
			w.cfg.OnError(-1, "message too large to send")
		}
	case batch.MessageTooLarge:
		w.cfg.OnError(-1, "message too large to send")
	}
}

// drainQueued non-blockingly pulls any messages already sitting in the
// channel, batches them, and flushes — used for Flush and as the first step
// of Shutdown.
func (w *Worker) drainQueued(ctx context.Context, b *batch.Batch) {
	for {
		select {
		case msg, ok := <-w.cfg.Messages:
			if !ok {
				w.flushBatch(ctx, b)
				return
			}
			w.cfg.OnDequeue()
			w.handleMessage(ctx, b, msg)
		default:
			w.flushBatch(ctx, b)
			return
		}
	}
}

func (w *Worker) drainAndStop(ctx context.Context, b *batch.Batch) {
	w.drainQueued(ctx, b)
	w.state.Store(int32(Stopped))
}

func (w *Worker) flushBatch(ctx context.Context, b *batch.Batch) {
	if b.Empty() {
		return
	}

	encoded, err := b.Encode(w.cfg.APIKey)
	if err != nil {
		w.cfg.OnError(-1, "encode batch: "+err.Error())
		b.Reset()
		return
	}

	resp := w.cfg.Transport.Send(ctx, "/batch", encoded)
	if w.cfg.Metrics != nil {
		w.cfg.Metrics.IncBatchesSent()
	}
	if resp.Err != nil {
		w.cfg.OnError(resp.StatusCode, resp.Err.Error())
	} else if resp.Status() != transport.StatusOK {
		w.cfg.OnError(resp.StatusCode, "batch send failed: "+string(resp.Body))
	}

	b.Reset()
}

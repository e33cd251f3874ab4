package notifications

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

const (
	ResultSent    = "sent"
	ResultFailed  = "failed"
	ResultDropped = "dropped"
)

type DispatcherConfig struct {
	QueueSize   int
	Workers     int
	SendTimeout time.Duration
	// OnResult is called once per message with one of the Result* values.
	OnResult func(result string)
}

type envelope struct {
	ctx context.Context
	msg Message
}

// Dispatcher hands messages to a Sender on background goroutines.
// Dispatch never blocks and never reports delivery errors to its caller.
type Dispatcher struct {
	sender Sender
	cfg    DispatcherConfig
	log    *slog.Logger

	mu     sync.RWMutex
	closed bool
	queue  chan envelope
	wg     sync.WaitGroup
}

func NewDispatcher(sender Sender, cfg DispatcherConfig, log *slog.Logger) *Dispatcher {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}

	d := &Dispatcher{
		sender: sender,
		cfg:    cfg,
		log:    log,
		queue:  make(chan envelope, cfg.QueueSize),
	}

	for i := 0; i < cfg.Workers; i++ {
		d.wg.Add(1)
		go d.run()
	}

	return d
}

// Dispatch queues msg. The request context only contributes its values (trace ids);
// its cancellation does not reach the send. Returns false when the message was dropped.
func (d *Dispatcher) Dispatch(ctx context.Context, msg Message) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		d.result(ResultDropped)
		d.log.WarnContext(ctx, "mail dispatch after shutdown, dropping", "subject", msg.Subject)
		return false
	}

	select {
	case d.queue <- envelope{ctx: context.WithoutCancel(ctx), msg: msg}:
		return true
	default:
		d.result(ResultDropped)
		d.log.WarnContext(ctx, "mail queue full, dropping", "subject", msg.Subject)
		return false
	}
}

// Close stops accepting messages and waits for queued ones to finish or ctx to end.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.Join(errors.New("mail dispatcher did not drain"), ctx.Err())
	}
}

func (d *Dispatcher) run() {
	defer d.wg.Done()

	for env := range d.queue {
		d.send(env)
	}
}

func (d *Dispatcher) send(env envelope) {
	ctx, cancel := context.WithTimeout(env.ctx, d.cfg.SendTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			d.result(ResultFailed)
			d.log.ErrorContext(ctx, "mail sender panicked", "panic", r)
		}
	}()

	start := time.Now()
	err := d.sender.Send(ctx, env.msg)

	if err != nil {
		d.result(ResultFailed)
		d.log.ErrorContext(ctx, "mail dispatch failed",
			"subject", env.msg.Subject,
			"err", err,
			"latency_ms", time.Since(start).Milliseconds(),
		)
		return
	}

	d.result(ResultSent)
	d.log.DebugContext(ctx, "mail dispatched",
		"subject", env.msg.Subject,
		"latency_ms", time.Since(start).Milliseconds(),
	)
}

func (d *Dispatcher) result(r string) {
	if d.cfg.OnResult != nil {
		d.cfg.OnResult(r)
	}
}

package fanout

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/yeremiapane/waiter-call/apperrors"
	"github.com/yeremiapane/waiter-call/models"
)

// DefaultTimeout bounds every side-channel call.
const DefaultTimeout = 3 * time.Second

// maxParallelDevices caps concurrent push sends for one event.
const maxParallelDevices = 8

// Mirror is a low-latency, non-authoritative copy of entity state.
type Mirror interface {
	Name() string
	Write(ctx context.Context, evt Event) error
}

// Pusher delivers a notification to one device of its platform.
type Pusher interface {
	Platform() string
	Send(ctx context.Context, token string, msg PushMessage) error
}

// DeviceSource looks up the registered devices of a waiter.
type DeviceSource interface {
	DeviceTokens(ctx context.Context, userID uint) ([]models.DeviceToken, error)
}

// Dispatcher delivers published events to every mirror and to the waiter's
// devices. Publish never blocks on a channel.
type Dispatcher struct {
	mirrors []Mirror
	pushers map[string]Pusher
	devices DeviceSource
	timeout time.Duration
	metrics *Metrics
	log     *logrus.Logger

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

type Option func(*Dispatcher)

func WithMirror(m Mirror) Option {
	return func(d *Dispatcher) { d.mirrors = append(d.mirrors, m) }
}

func WithPusher(p Pusher) Option {
	return func(d *Dispatcher) { d.pushers[p.Platform()] = p }
}

func WithDevices(src DeviceSource) Option {
	return func(d *Dispatcher) { d.devices = src }
}

func WithTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.timeout = timeout
		}
	}
}

func WithMetrics(m *Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

func WithLogger(l *logrus.Logger) Option {
	return func(d *Dispatcher) { d.log = l }
}

func NewDispatcher(opts ...Option) *Dispatcher {
	d := &Dispatcher{
		pushers: make(map[string]Pusher),
		timeout: DefaultTimeout,
		log:     logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Publish schedules delivery of evt. It returns immediately.
func (d *Dispatcher) Publish(evt Event) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		d.log.WithFields(eventFields(evt)).Warn("fanout closed, dropping event")
		return
	}
	d.metrics.published(evt.Type)

	for _, m := range d.mirrors {
		d.wg.Add(1)
		go func(m Mirror) {
			defer d.wg.Done()
			d.deliver("mirror:"+m.Name(), evt, func(ctx context.Context) error {
				return m.Write(ctx, evt)
			})
		}(m)
	}

	if msg, ok := evt.Push(); ok && d.devices != nil && len(d.pushers) > 0 {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			d.push(evt, msg)
		}()
	}
}

// Close stops accepting events and waits for in-flight deliveries.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
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
		return fmt.Errorf("fanout drain: %w", ctx.Err())
	}
}

func (d *Dispatcher) push(evt Event, msg PushMessage) {
	var tokens []models.DeviceToken
	d.deliver("push:lookup", evt, func(ctx context.Context) error {
		var err error
		tokens, err = d.devices.DeviceTokens(ctx, evt.WaiterID)
		return err
	})

	var g errgroup.Group
	g.SetLimit(maxParallelDevices)
	for _, tok := range tokens {
		pusher, ok := d.pushers[tok.Platform]
		if !ok {
			d.log.WithFields(eventFields(evt)).WithField("platform", tok.Platform).
				Debug("no pusher for device platform")
			continue
		}
		g.Go(func() error {
			// one device failing must not stop the others
			d.deliver("push:"+pusher.Platform(), evt, func(ctx context.Context) error {
				return pusher.Send(ctx, tok.Token, msg)
			})
			return nil
		})
	}
	_ = g.Wait()
}

// deliver runs fn under the channel timeout and absorbs its failure.
func (d *Dispatcher) deliver(channel string, evt Event, fn func(ctx context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	start := time.Now()
	d.metrics.begin()
	status := StatusSuccess
	defer func() {
		if r := recover(); r != nil {
			status = StatusPanic
			d.log.WithFields(eventFields(evt)).WithField("channel", channel).
				Errorf("side channel panicked: %v", r)
		}
		d.metrics.observe(channel, status, time.Since(start))
	}()

	err := fn(ctx)
	if err == nil {
		return
	}
	status = StatusError
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		status = StatusTimeout
	}
	failure := apperrors.Wrap(apperrors.KindTransient, err, "%s delivery failed", channel)
	d.log.WithFields(eventFields(evt)).WithFields(logrus.Fields{
		"channel": channel,
		"status":  status,
	}).Warn(failure.Error())
}

func eventFields(evt Event) logrus.Fields {
	return logrus.Fields{
		"event_id":    evt.ID,
		"event_type":  evt.Type,
		"entity_type": evt.EntityType,
		"entity_id":   evt.EntityID,
		"table_id":    evt.TableID,
	}
}

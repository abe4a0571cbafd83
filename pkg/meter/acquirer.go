// Package meter drives the multimeter over its serial link: it owns the
// single exclusive channel, frames point-select commands, validates response
// frames and retries failed exchanges.
package meter

import (
	"context"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Reading is one successfully acquired measurement.
type Reading struct {
	PointID int       `json:"point_id"`
	Value   float64   `json:"value"`
	Unit    string    `json:"unit"`
	At      time.Time `json:"at"`
}

// Options tunes the acquisition exchange.
type Options struct {
	// Timeout bounds the wait for a response frame per attempt.
	Timeout time.Duration
	// MaxRetries is the number of attempts per acquisition.
	MaxRetries int
	// Backoff is the base delay between attempts; attempt n waits n*Backoff.
	Backoff time.Duration
}

const (
	DefaultTimeout    = 2 * time.Second
	DefaultMaxRetries = 3
	DefaultBackoff    = 250 * time.Millisecond

	// pollInterval slices a frame wait so cancellation is observed promptly
	// while the device stays silent.
	pollInterval = 100 * time.Millisecond
)

func (o *Options) applyDefaults() {
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = DefaultMaxRetries
	}
	if o.Backoff <= 0 {
		o.Backoff = DefaultBackoff
	}
}

type result struct {
	reading Reading
	err     error
}

type request struct {
	ctx     context.Context
	pointID int
	reply   chan result
}

// Acquirer serializes all acquisitions through a single worker goroutine so
// the serial channel is never touched by two exchanges at once. Requests are
// processed strictly in the order they were issued.
type Acquirer struct {
	tr   Transport
	opts Options

	reqs chan *request
	stop chan struct{}
	done chan struct{}
}

// NewAcquirer wraps tr. Call Start before Acquire.
func NewAcquirer(tr Transport, opts Options) *Acquirer {
	opts.applyDefaults()
	return &Acquirer{
		tr:   tr,
		opts: opts,
		reqs: make(chan *request, 64),
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
}

// Start opens the transport and starts the worker.
func (a *Acquirer) Start() error {
	if err := a.tr.Open(); err != nil {
		return pkgerrors.Wrap(err, "failed to open measurement channel")
	}
	go a.worker()
	return nil
}

// Close stops the worker and closes the transport. Pending requests fail
// with ErrClosed.
func (a *Acquirer) Close() error {
	select {
	case <-a.stop:
		return nil
	default:
	}
	close(a.stop)
	<-a.done
	return a.tr.Close()
}

// Acquire performs one point-reading exchange. It blocks until the channel
// is free and the exchange finished, the context is canceled, or the
// acquirer is closed. A failed or canceled acquisition has no side effects;
// the caller stores the returned reading.
func (a *Acquirer) Acquire(ctx context.Context, pointID int) (Reading, error) {
	req := &request{
		ctx:     ctx,
		pointID: pointID,
		reply:   make(chan result, 1),
	}

	select {
	case a.reqs <- req:
	case <-ctx.Done():
		return Reading{}, ErrCanceled
	case <-a.stop:
		return Reading{}, ErrClosed
	}

	select {
	case res := <-req.reply:
		return res.reading, res.err
	case <-a.stop:
		return Reading{}, ErrClosed
	}
}

func (a *Acquirer) worker() {
	defer close(a.done)
	for {
		select {
		case <-a.stop:
			return
		case req := <-a.reqs:
			if req.ctx.Err() != nil {
				// Canceled while queued; the channel was never touched.
				req.reply <- result{err: ErrCanceled}
				continue
			}
			rd, err := a.exchange(req.ctx, req.pointID)
			req.reply <- result{reading: rd, err: err}
		}
	}
}

// exchange runs the full retry loop for one point.
func (a *Acquirer) exchange(ctx context.Context, pointID int) (Reading, error) {
	log := logrus.WithField("pointID", pointID)

	var lastErr error
	for attempt := 1; attempt <= a.opts.MaxRetries; attempt++ {
		if attempt > 1 {
			// Linear backoff between attempts.
			delay := time.Duration(attempt-1) * a.opts.Backoff
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return Reading{}, ErrCanceled
			case <-a.stop:
				return Reading{}, ErrClosed
			}
		}

		rd, err := a.attempt(ctx, pointID)
		if err == nil {
			log.WithFields(logrus.Fields{
				"value":   rd.Value,
				"unit":    rd.Unit,
				"attempt": attempt,
			}).Debug("acquisition succeeded")
			return rd, nil
		}
		if pkgerrors.Is(err, ErrCanceled) || pkgerrors.Is(err, ErrClosed) {
			return Reading{}, err
		}

		log.WithField("attempt", attempt).Warnf("acquisition attempt failed: %v", err)
		lastErr = err
	}

	return Reading{}, pkgerrors.Wrapf(lastErr, "after %d attempts", a.opts.MaxRetries)
}

// attempt performs a single command/response exchange.
func (a *Acquirer) attempt(ctx context.Context, pointID int) (Reading, error) {
	if err := a.tr.Write(encodeRequest(pointID)); err != nil {
		return Reading{}, pkgerrors.Wrap(ErrDeviceNotResponding, err.Error())
	}

	var scanner frameScanner
	deadline := time.Now().Add(a.opts.Timeout)

	for {
		// Cancellation is only observed here, at a frame-wait boundary, so
		// the channel is never abandoned mid-write.
		select {
		case <-ctx.Done():
			return Reading{}, ErrCanceled
		case <-a.stop:
			return Reading{}, ErrClosed
		default:
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return Reading{}, ErrTimeout
		}
		slice := pollInterval
		if remaining < slice {
			slice = remaining
		}

		chunk, err := a.tr.Read(slice)
		if err != nil {
			if pkgerrors.Is(err, ErrReadTimeout) {
				continue
			}
			return Reading{}, pkgerrors.Wrap(ErrDeviceNotResponding, err.Error())
		}

		scanner.feed(chunk)
		for frame := scanner.next(); frame != nil; frame = scanner.next() {
			resp, err := parseFrame(frame)
			if err != nil {
				return Reading{}, pkgerrors.Wrap(ErrChecksumMismatch, err.Error())
			}
			if resp.devErr != "" {
				return Reading{}, pkgerrors.Wrapf(ErrDeviceNotResponding, "device error %s", resp.devErr)
			}
			if resp.pointID != pointID {
				return Reading{}, pkgerrors.Wrapf(ErrChecksumMismatch,
					"response for point %d, requested %d", resp.pointID, pointID)
			}
			return Reading{
				PointID: pointID,
				Value:   resp.value,
				Unit:    resp.unit,
				At:      time.Now(),
			}, nil
		}
	}
}

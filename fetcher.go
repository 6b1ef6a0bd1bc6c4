package refetch

import (
	"context"
	"errors"
	"sync/atomic"
	"time"
)

// Errors returned by NewFetcher.
var (
	// ErrInvalidTarget is returned when the target has no host.
	ErrInvalidTarget = errors.New("invalid target")
	// ErrInvalidBuffer is returned when no buffer is provided.
	ErrInvalidBuffer = errors.New("invalid buffer")
)

// Fetcher re-issues one GET request over a fresh connection every cycle
// and pushes each response body into a Buffer.
type Fetcher struct {
	target  Target
	request []byte
	buffer  *Buffer[[]byte]
	reader  *Reader
	chunk   []byte
	logger  Logger
	metrics *fetchMetrics

	opts     options
	dialOpts []Option

	cycles atomic.Int64
}

// NewFetcher creates a Fetcher for target publishing into buffer.
// It installs the buffer's OnDrop callback to count overflow drops.
func NewFetcher(target Target, buffer *Buffer[[]byte], opt ...Option) (*Fetcher, error) {
	if target.Host == "" {
		return nil, ErrInvalidTarget
	}
	if buffer == nil {
		return nil, ErrInvalidBuffer
	}

	opts := newOptions(opt)
	f := &Fetcher{
		target:   target,
		request:  target.Request(),
		buffer:   buffer,
		reader:   NewReader(opts.maxMessageSize),
		chunk:    make([]byte, opts.chunkSize),
		logger:   opts.logger,
		opts:     opts,
		dialOpts: opt,
	}
	f.metrics = newFetchMetrics(opts.registerer, func() float64 {
		return float64(buffer.Len())
	})
	buffer.OnDrop(func([]byte) {
		f.metrics.OnDropped()
	})
	return f, nil
}

// Run repeats fetch cycles until ctx is cancelled or the configured number
// of cycles has run. Cancellation is only observed between cycles, so an
// in-flight cycle always finishes. Cycle failures are reported through the
// logger and the OnError callback and never stop the loop.
func (f *Fetcher) Run(ctx context.Context) error {
	f.logger.Info("fetcher started", "target", f.target.String(),
		"capacity", f.buffer.Cap(), "overflow", f.buffer.Policy().String())

	for n := 0; f.opts.maxCycles == 0 || n < f.opts.maxCycles; n++ {
		if err := ctx.Err(); err != nil {
			f.logger.Info("fetcher stopped", "cycles", f.Cycles())
			return err
		}

		if err := f.wait(ctx); err != nil {
			f.logger.Info("fetcher stopped", "cycles", f.Cycles())
			return err
		}

		if _, err := f.Cycle(ctx); err != nil {
			f.report(err)
			if err := f.pause(ctx); err != nil {
				f.logger.Info("fetcher stopped", "cycles", f.Cycles())
				return err
			}
		}
	}

	f.logger.Info("fetcher finished", "cycles", f.Cycles())
	return nil
}

// Cycle runs exactly one connect, send, receive, strip and publish round trip.
// A response with an empty body is returned with a nil Body and is not pushed.
func (f *Fetcher) Cycle(ctx context.Context) (*Response, error) {
	defer f.cycles.Add(1)

	resp, err := f.fetch(context.WithoutCancel(ctx))
	f.metrics.OnCycle(resp, err)
	if err != nil {
		return nil, err
	}

	if resp.Body == nil {
		f.logger.Debug("no data produced", "status", resp.StatusCode)
		return resp, nil
	}

	evicted := f.buffer.Push(resp.Body)
	f.metrics.OnPushed()
	f.logger.Debug("fetch cycle complete", "status", resp.StatusCode,
		"length", resp.Length(), "evicted", evicted, "buffered", f.buffer.Len())
	return resp, nil
}

// Cycles returns the number of cycles run so far.
func (f *Fetcher) Cycles() int64 {
	return f.cycles.Load()
}

// Buffer returns the buffer the fetcher publishes into.
func (f *Fetcher) Buffer() *Buffer[[]byte] {
	return f.buffer
}

func (f *Fetcher) fetch(ctx context.Context) (*Response, error) {
	transport, err := f.opts.dialer(ctx, f.target.Address(), f.dialOpts...)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := transport.Close(); err != nil {
			f.logger.Warn("close failed", "addr", transport.RemoteAddr(), "error", err)
			f.opts.onError(err)
		}
	}()

	if err := transport.SendAll(f.request); err != nil {
		return nil, err
	}

	f.reader.Reset()
	if err := f.receive(transport); err != nil {
		return nil, err
	}

	resp, err := f.reader.Response()
	if isEmptyBody(err) {
		return f.reader.header(), nil
	}
	return resp, err
}

// receive drives the reader until the message is complete or fails.
func (f *Fetcher) receive(transport Transport) error {
	for {
		n, peerClosed, err := transport.Receive(f.chunk)
		if n > 0 {
			f.metrics.OnReceived(n)
			state, ferr := f.reader.Feed(f.chunk[:n])
			if ferr != nil {
				return ferr
			}
			if state == StateComplete {
				return nil
			}
		}
		if err != nil {
			return err
		}
		if peerClosed {
			_, err := f.reader.PeerClosed()
			return err
		}
	}
}

func (f *Fetcher) report(err error) {
	f.logger.Warn("fetch cycle failed", "target", f.target.String(), "kind", errorKind(err), "error", err)
	f.opts.onError(err)
}

// wait blocks until the limiter admits the next cycle. Unlike
// rate.Limiter.Wait it does not give up early when ctx has a deadline,
// so only cancellation ends the loop. A reservation the limiter cannot
// grant is reported and the cycle runs unpaced.
func (f *Fetcher) wait(ctx context.Context) error {
	reservation := f.opts.limiter.Reserve()
	if !reservation.OK() {
		f.report(errors.New("cycle rate limiter cannot grant a reservation"))
		return ctx.Err()
	}

	delay := reservation.Delay()
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		reservation.Cancel()
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// pause waits the retry interval after a failed cycle.
func (f *Fetcher) pause(ctx context.Context) error {
	if f.opts.retryInterval <= 0 {
		return nil
	}
	timer := time.NewTimer(f.opts.retryInterval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

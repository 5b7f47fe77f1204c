// Package ratelimit throttles data connection bandwidth with token buckets
// from golang.org/x/time/rate.
package ratelimit

import (
	"context"
	"io"

	"golang.org/x/time/rate"
)

// maxChunk bounds a single read or write so waits stay short.
const maxChunk = 32 * 1024

// Limiter limits a byte stream to a number of bytes per second. Bursts of
// up to one second worth of data are allowed. A nil *Limiter does not limit.
type Limiter struct {
	lim *rate.Limiter
}

// New returns a limiter for bytesPerSecond, or nil if bytesPerSecond is not
// positive.
func New(bytesPerSecond int64) *Limiter {
	if bytesPerSecond <= 0 {
		return nil
	}
	burst := int(bytesPerSecond)
	if int64(burst) != bytesPerSecond || burst < 0 {
		burst = int(^uint(0) >> 1)
	}
	return &Limiter{lim: rate.NewLimiter(rate.Limit(bytesPerSecond), burst)}
}

// Limit returns the configured rate in bytes per second.
func (l *Limiter) Limit() int64 {
	if l == nil {
		return 0
	}
	return int64(l.lim.Limit())
}

func (l *Limiter) wait(ctx context.Context, n int) error {
	if l == nil {
		return nil
	}
	return l.lim.WaitN(ctx, n)
}

// chunk returns the largest request every limiter can grant at once.
func chunk(limiters []*Limiter, n int) int {
	if n > maxChunk {
		n = maxChunk
	}
	for _, l := range limiters {
		if l != nil && l.lim.Burst() < n {
			n = l.lim.Burst()
		}
	}
	return n
}

func active(limiters []*Limiter) []*Limiter {
	var out []*Limiter
	for _, l := range limiters {
		if l != nil {
			out = append(out, l)
		}
	}
	return out
}

type reader struct {
	ctx      context.Context
	r        io.Reader
	limiters []*Limiter
}

// NewReader limits r by every non-nil limiter. With no active limiter r is
// returned unchanged.
func NewReader(ctx context.Context, r io.Reader, limiters ...*Limiter) io.Reader {
	limiters = active(limiters)
	if len(limiters) == 0 {
		return r
	}
	return &reader{ctx: ctx, r: r, limiters: limiters}
}

func (r *reader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	n, err := r.r.Read(p[:chunk(r.limiters, len(p))])
	if n > 0 {
		for _, l := range r.limiters {
			if werr := l.wait(r.ctx, n); werr != nil {
				return n, werr
			}
		}
	}
	return n, err
}

type writer struct {
	ctx      context.Context
	w        io.Writer
	limiters []*Limiter
}

// NewWriter limits w by every non-nil limiter. With no active limiter w is
// returned unchanged.
func NewWriter(ctx context.Context, w io.Writer, limiters ...*Limiter) io.Writer {
	limiters = active(limiters)
	if len(limiters) == 0 {
		return w
	}
	return &writer{ctx: ctx, w: w, limiters: limiters}
}

func (w *writer) Write(p []byte) (int, error) {
	written := 0
	for written < len(p) {
		size := chunk(w.limiters, len(p)-written)
		for _, l := range w.limiters {
			if err := l.wait(w.ctx, size); err != nil {
				return written, err
			}
		}
		n, err := w.w.Write(p[written : written+size])
		written += n
		if err != nil {
			return written, err
		}
	}
	return written, nil
}

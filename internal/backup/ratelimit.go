package backup

import (
	"context"
	"io"

	"golang.org/x/time/rate"
)

// rateLimitedWriter throttles the bytes it passes to an underlying writer to
// a fixed rate, the write-side counterpart of the teacher's bandwidth
// limiter (internal/limited.Reader wraps an io.Reader's Read around a
// rate.Limiter for uploads; here it is the partial stream file's Write path
// that needs capping, per --ratelimit, so writes rather than reads pass
// through the limiter).
type rateLimitedWriter struct {
	ctx     context.Context
	w       io.Writer
	limiter *rate.Limiter
}

// newRateLimitedWriter wraps w so that no more than bytesPerSec bytes flow
// through it per second, bursts allowed up to one second's worth. A
// bytesPerSec of 0 disables limiting and returns w unchanged.
func newRateLimitedWriter(ctx context.Context, w io.Writer, bytesPerSec int) io.Writer {
	if bytesPerSec <= 0 {
		return w
	}
	return &rateLimitedWriter{
		ctx:     ctx,
		w:       w,
		limiter: rate.NewLimiter(rate.Limit(bytesPerSec), bytesPerSec),
	}
}

func (r *rateLimitedWriter) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	// waitN blocks until len(p) tokens have been reserved (or ctx is
	// cancelled), in burst-sized steps since burst equals bytesPerSec: a
	// write larger than one second's budget still succeeds, it just waits
	// proportionally longer.
	if err := waitN(r.ctx, r.limiter, len(p)); err != nil {
		return 0, err
	}
	return r.w.Write(p)
}

// waitN reserves n tokens up to the limiter's burst size at a time, since
// rate.Limiter.WaitN rejects a request larger than its own burst outright
// rather than queuing it.
func waitN(ctx context.Context, limiter *rate.Limiter, n int) error {
	burst := limiter.Burst()
	for n > 0 {
		chunk := n
		if chunk > burst {
			chunk = burst
		}
		if err := limiter.WaitN(ctx, chunk); err != nil {
			return err
		}
		n -= chunk
	}
	return nil
}

package nbd

import (
	"context"
	"errors"
	"net"
	"strings"
	"syscall"
	"time"

	"github.com/wal-g/tracelog"
)

// DialRetryAttempts and DialRetryBackoff implement spec.md §5's connect-retry
// loop: up to 10 attempts, 1 second apart, retrying only a connection
// refused error (the socket exists but nothing is listening yet, the
// expected transient state right after a checkpoint-triggered NBD server
// start). Any other dial failure is not retried.
const (
	DialRetryAttempts = 10
	DialRetryBackoff  = time.Second
)

// DialFunc opens the underlying transport connection; it exists so tests can
// substitute a fake dialer without opening real sockets.
type DialFunc func(ctx context.Context) (net.Conn, error)

// DialWithRetry calls dial up to DialRetryAttempts times, sleeping
// DialRetryBackoff between attempts, but only when the failure looks like a
// connection refused. Any other error, or exhausting the attempts, returns
// an NbdConnectError.
func DialWithRetry(ctx context.Context, dial DialFunc) (net.Conn, error) {
	var lastErr error
	for attempt := 1; attempt <= DialRetryAttempts; attempt++ {
		conn, err := dial(ctx)
		if err == nil {
			return conn, nil
		}
		lastErr = err

		if !isConnectionRefused(err) {
			return nil, NewNbdConnectError("nbd: dial failed: %v", err)
		}

		tracelog.WarningLogger.Printf("nbd: connection refused, attempt %d/%d: %v", attempt, DialRetryAttempts, err)
		if attempt == DialRetryAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return nil, NewNbdConnectError("nbd: dial cancelled: %v", ctx.Err())
		case <-time.After(DialRetryBackoff):
		}
	}
	return nil, NewNbdConnectError("nbd: exceeded %d connect retries: %v", DialRetryAttempts, lastErr)
}

func isConnectionRefused(err error) bool {
	if errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}
	return strings.Contains(err.Error(), "connection refused")
}

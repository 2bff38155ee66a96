package journal

import (
	"errors"
	"math/rand"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// Several nodes of a simulation journal concurrently through a small
// connection pool. busy_timeout absorbs most lock waits at the connection
// level; the codes below can still surface and clear on a retry.

type retryConfig struct {
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

var defaultRetryConfig = retryConfig{
	maxRetries: 3,
	baseDelay:  50 * time.Millisecond,
	maxDelay:   500 * time.Millisecond,
}

// transientMarkers match errors that lost their *sqlite.Error on the way up.
var transientMarkers = []string{
	"SQLITE_BUSY",
	"SQLITE_LOCKED",
	"IOERR_SHORT_READ",
	"database is locked",
	"database table is locked",
}

// isTransient reports whether err is a busy, locked or short-read failure.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	var se *sqlite.Error
	if errors.As(err, &se) {
		if se.Code() == sqlite3.SQLITE_IOERR_SHORT_READ {
			return true
		}
		primary := se.Code() & 0xff
		return primary == sqlite3.SQLITE_BUSY || primary == sqlite3.SQLITE_LOCKED
	}
	msg := err.Error()
	for _, m := range transientMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

// retryOp runs fn until it succeeds, fails permanently, or has been retried
// cfg.maxRetries times.
func retryOp(cfg retryConfig, fn func() error) error {
	err := fn()
	for attempt := 0; attempt < cfg.maxRetries && isTransient(err); attempt++ {
		time.Sleep(backoffDelay(cfg, attempt))
		err = fn()
	}
	return err
}

func retryOnContention(fn func() error) error {
	return retryOp(defaultRetryConfig, fn)
}

// backoffDelay is baseDelay*2^attempt capped at maxDelay, plus up to one
// baseDelay of jitter.
func backoffDelay(cfg retryConfig, attempt int) time.Duration {
	delay := cfg.baseDelay << uint(attempt)
	if delay > cfg.maxDelay || delay <= 0 {
		delay = cfg.maxDelay
	}
	return delay + time.Duration(rand.Int63n(int64(cfg.baseDelay)))
}

package chat

import (
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// Backoff is the retry policy for sends into a full bounded channel: the
// delay starts at Initial and doubles up to Max. Clock is swappable for
// simulated time in tests.
type Backoff struct {
	Initial time.Duration
	Max     time.Duration
	Clock   clock.Clock
}

func (b Backoff) withDefaults() Backoff {
	if b.Initial <= 0 {
		b.Initial = time.Millisecond
	}
	if b.Max < b.Initial {
		b.Max = 50 * time.Millisecond
		if b.Max < b.Initial {
			b.Max = b.Initial
		}
	}
	if b.Clock == nil {
		b.Clock = clock.New()
	}
	return b
}

func (b Backoff) next(d time.Duration) time.Duration {
	d *= 2
	if d > b.Max {
		return b.Max
	}
	return d
}

// sendWithBackoff delivers v on ch, waiting per policy while ch is full.
// onRetry runs before each wait. It returns false only if stop closes
// first.
func sendWithBackoff[T any](ch chan<- T, v T, b Backoff, stop <-chan struct{}, onRetry func()) bool {
	delay := b.Initial
	for {
		select {
		case ch <- v:
			return true
		case <-stop:
			return false
		default:
		}
		if onRetry != nil {
			onRetry()
		}
		select {
		case ch <- v:
			return true
		case <-stop:
			return false
		case <-b.Clock.After(delay):
		}
		delay = b.next(delay)
	}
}

// Bridge carries worker replies back to the reactor over a bounded
// channel. Send never drops a reply; a full channel is back-pressure.
type Bridge struct {
	replies chan Reply
	backoff Backoff
	wake    func() error
	logger  *slog.Logger

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewBridge creates a bridge with room for size replies. wake is called
// after every delivered reply so a blocked reactor notices it.
func NewBridge(size int, b Backoff, wake func() error, logger *slog.Logger) *Bridge {
	if size <= 0 {
		size = 64
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{
		replies: make(chan Reply, size),
		backoff: b.withDefaults(),
		wake:    wake,
		logger:  logger,
		stopCh:  make(chan struct{}),
	}
}

func (b *Bridge) Replies() <-chan Reply {
	return b.replies
}

// Send delivers r, retrying while the channel is full. It returns
// ErrStopped if the bridge is closed before r could be delivered.
func (b *Bridge) Send(r Reply) error {
	ok := sendWithBackoff[Reply](b.replies, r, b.backoff, b.stopCh, func() {
		BackoffRetries.WithLabelValues("reply").Inc()
		b.logger.Debug("reply channel full, backing off", "token", r.Token.String())
	})
	if !ok {
		return ErrStopped
	}
	if b.wake != nil {
		if err := b.wake(); err != nil {
			b.logger.Debug("wake reactor", "error", err)
		}
	}
	return nil
}

// Close aborts any Send still waiting for capacity.
func (b *Bridge) Close() {
	b.stopOnce.Do(func() { close(b.stopCh) })
}

package reconnect

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/zsiec/rtspsource/internal/config"
)

// Strategy defines the reconnection strategy interface
type Strategy interface {
	// NextDelay returns the next delay duration and whether to continue retrying
	NextDelay() (time.Duration, bool)
	// Reset resets the strategy to initial state
	Reset()
}

// FixedInterval retries at the same interval. MaxRetries 0 means no ceiling.
type FixedInterval struct {
	Interval   time.Duration
	MaxRetries int

	retryCount int
	mu         sync.Mutex
}

func NewFixedInterval(interval time.Duration, maxRetries int) *FixedInterval {
	return &FixedInterval{Interval: interval, MaxRetries: maxRetries}
}

func (f *FixedInterval) NextDelay() (time.Duration, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.Interval <= 0 {
		return 0, false
	}
	if f.MaxRetries > 0 && f.retryCount >= f.MaxRetries {
		return 0, false
	}
	f.retryCount++
	return f.Interval, true
}

func (f *FixedInterval) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.retryCount = 0
}

// ExponentialBackoff implements exponential backoff with jitter
type ExponentialBackoff struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	MaxRetries   int

	currentDelay time.Duration
	retryCount   int
	rand         *rand.Rand
	mu           sync.Mutex
}

// NewExponentialBackoff creates a new exponential backoff strategy
func NewExponentialBackoff(initialDelay, maxDelay time.Duration, multiplier float64, maxRetries int) *ExponentialBackoff {
	return &ExponentialBackoff{
		InitialDelay: initialDelay,
		MaxDelay:     maxDelay,
		Multiplier:   multiplier,
		MaxRetries:   maxRetries,
		currentDelay: initialDelay,
		rand:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// NextDelay returns the next delay with exponential backoff and jitter
func (e *ExponentialBackoff) NextDelay() (time.Duration, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.InitialDelay <= 0 {
		return 0, false
	}
	if e.MaxRetries > 0 && e.retryCount >= e.MaxRetries {
		return 0, false
	}

	// ±20% jitter
	jitterFloat := 0.8 + (0.4 * e.rand.Float64())
	delay := time.Duration(float64(e.currentDelay) * jitterFloat)

	e.currentDelay = time.Duration(float64(e.currentDelay) * e.Multiplier)
	if e.MaxDelay > 0 && e.currentDelay > e.MaxDelay {
		e.currentDelay = e.MaxDelay
	}
	e.retryCount++

	return delay, true
}

// Reset resets the backoff strategy
func (e *ExponentialBackoff) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.currentDelay = e.InitialDelay
	e.retryCount = 0
}

// Disabled never retries.
type Disabled struct{}

func (Disabled) NextDelay() (time.Duration, bool) { return 0, false }
func (Disabled) Reset()                           {}

// FromConfig builds the strategy for a base interval. A zero interval
// disables reconnection whatever the configured strategy.
func FromConfig(interval time.Duration, cfg config.ReconnectConfig) (Strategy, error) {
	if interval <= 0 {
		return Disabled{}, nil
	}
	switch cfg.Strategy {
	case "", "fixed":
		return NewFixedInterval(interval, cfg.MaxRetries), nil
	case "exponential":
		return NewExponentialBackoff(interval, cfg.MaxDelay, cfg.Multiplier, cfg.MaxRetries), nil
	default:
		return nil, fmt.Errorf("unknown reconnect strategy %q", cfg.Strategy)
	}
}

package chaos

import (
	"math/rand"
	"sync"
	"time"

	"alats/pkg/exception"

	"github.com/yanun0323/errors"
)

// Fault describes what happens to one exchange call.
type Fault struct {
	// Delay is added latency before the call is processed.
	Delay time.Duration
	// Fail rejects the call with a transient error before it takes effect.
	Fail bool
	// LoseAck applies the call but reports a transient error to the caller.
	LoseAck bool
}

// Config controls fault injection behavior.
type Config struct {
	Seed        int64         `yaml:"seed"`
	ErrorRate   float64       `yaml:"error_rate"`
	LostAckRate float64       `yaml:"lost_ack_rate"`
	MaxDelay    time.Duration `yaml:"max_delay"`
}

// Engine draws faults for exchange calls.
type Engine struct {
	cfg Config

	mu     sync.Mutex
	rng    *rand.Rand
	script []Fault
}

// NewEngine creates a chaos engine with validation.
func NewEngine(cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Seed == 0 {
		cfg.Seed = time.Now().UTC().UnixNano()
	}
	return &Engine{
		cfg: cfg,
		rng: rand.New(rand.NewSource(cfg.Seed)),
	}, nil
}

// Validate ensures the config is within supported ranges.
func (c Config) Validate() error {
	if c.ErrorRate < 0 || c.ErrorRate > 1 {
		return errors.Wrap(exception.ErrInvalidArgument, "errorRate must be between 0 and 1")
	}
	if c.LostAckRate < 0 || c.LostAckRate > 1 {
		return errors.Wrap(exception.ErrInvalidArgument, "lostAckRate must be between 0 and 1")
	}
	if c.MaxDelay < 0 {
		return errors.Wrap(exception.ErrInvalidArgument, "maxDelay must be >= 0")
	}
	return nil
}

// Script queues faults that are returned before any random draw.
func (e *Engine) Script(faults ...Fault) {
	if e == nil {
		return
	}
	e.mu.Lock()
	e.script = append(e.script, faults...)
	e.mu.Unlock()
}

// Next returns the fault for the next call. A nil engine injects nothing.
func (e *Engine) Next() Fault {
	if e == nil {
		return Fault{}
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.script) > 0 {
		f := e.script[0]
		e.script = e.script[1:]
		return f
	}

	f := Fault{Delay: e.delay()}
	switch {
	case e.shouldFail():
		f.Fail = true
	case e.shouldLoseAck():
		f.LoseAck = true
	}
	return f
}

func (e *Engine) shouldFail() bool {
	return e.cfg.ErrorRate > 0 && e.rng.Float64() < e.cfg.ErrorRate
}

func (e *Engine) shouldLoseAck() bool {
	return e.cfg.LostAckRate > 0 && e.rng.Float64() < e.cfg.LostAckRate
}

func (e *Engine) delay() time.Duration {
	maxDelay := e.cfg.MaxDelay.Nanoseconds()
	if maxDelay <= 0 {
		return 0
	}
	return time.Duration(e.rng.Int63n(maxDelay + 1))
}

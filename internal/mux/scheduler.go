package mux

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/voxmux/voxmux/pkg/engine"
)

// ErrTurnInFlight is returned by [Scheduler.BeginTurn] while another turn is
// active anywhere in the process.
var ErrTurnInFlight = errors.New("mux: a turn is already in flight")

// DefaultMinChunks is the minimum buffered chunk count before a source may
// take a turn.
const DefaultMinChunks = 6

// Scheduler owns the shared engine's position and serializes turns across all
// sources.
//
// Two synchronisation layers exist on purpose. The in-flight flag (under mu)
// is checked before any engine work starts, so ineligible callers bail out
// without ever touching the engine lock. The engine lock (engineMu) guards
// the engine instance and currentSource; every context switch, decode, and
// source detachment runs inside it.
type Scheduler struct {
	store     *Store
	eng       engine.Engine
	minChunks int

	// onSwitch, when non-nil, observes every context switch with whether a
	// checkpoint was restored (true) or the engine started fresh (false).
	onSwitch func(restored bool)

	mu       sync.Mutex
	inFlight bool

	// engineMu serializes all engine access. currentSource is the id whose
	// decoding state the engine holds; "" means none.
	engineMu      sync.Mutex
	currentSource string
}

// SchedulerConfig holds the Scheduler dependencies.
type SchedulerConfig struct {
	Store  *Store
	Engine engine.Engine

	// MinChunks is the eligibility floor; <= 0 selects [DefaultMinChunks].
	MinChunks int

	// OnSwitch is an optional context-switch observer (used for metrics).
	OnSwitch func(restored bool)
}

// NewScheduler creates a Scheduler over the given store and engine.
func NewScheduler(cfg SchedulerConfig) *Scheduler {
	min := cfg.MinChunks
	if min <= 0 {
		min = DefaultMinChunks
	}
	return &Scheduler{
		store:     cfg.Store,
		eng:       cfg.Engine,
		minChunks: min,
		onSwitch:  cfg.OnSwitch,
	}
}

// Eligible reports whether source may take the next turn, per the greedy
// most-backlogged-eligible-source policy.
func (s *Scheduler) Eligible(source string) bool {
	return s.store.Eligible(source, s.minChunks)
}

// BeginTurn atomically claims the global turn slot for source. It fails with
// [ErrTurnInFlight] when any turn is active. The returned Turn must be ended
// exactly once; End is safe to call on every exit path.
func (s *Scheduler) BeginTurn(source string) (*Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inFlight {
		return nil, ErrTurnInFlight
	}
	s.inFlight = true
	return &Turn{sched: s, source: source}, nil
}

// Detach removes source's context. It takes the engine lock so removal cannot
// race a context switch targeting the source; if the engine currently holds
// this source's state, the position is cleared so the next switch does not
// save state into (or leak state out of) a dead context.
func (s *Scheduler) Detach(source string) {
	s.engineMu.Lock()
	defer s.engineMu.Unlock()
	s.store.Remove(source)
	if s.currentSource == source {
		s.currentSource = ""
	}
}

// CurrentSource reports which source's state the engine holds ("" for none).
func (s *Scheduler) CurrentSource() string {
	s.engineMu.Lock()
	defer s.engineMu.Unlock()
	return s.currentSource
}

// switchLocked swaps the engine onto source. Caller must hold engineMu.
//
//  1. Already positioned on source: no-op.
//  2. Positioned on another source: save its state into that context.
//  3. Restore source's checkpoint, or initialise fresh when it has none.
func (s *Scheduler) switchLocked(source string) error {
	if s.currentSource == source {
		return nil
	}
	if s.currentSource != "" {
		cp, err := s.eng.SaveState()
		if err != nil {
			return fmt.Errorf("mux: save state for %q: %w", s.currentSource, err)
		}
		s.store.setCheckpoint(s.currentSource, cp)
	}

	restored := false
	if cp := s.store.getCheckpoint(source); cp != nil {
		if err := s.eng.LoadState(cp); err != nil {
			return fmt.Errorf("mux: restore state for %q: %w", source, err)
		}
		restored = true
	} else {
		if err := s.eng.Init(); err != nil {
			return fmt.Errorf("mux: init engine for %q: %w", source, err)
		}
	}
	s.currentSource = source

	if s.onSwitch != nil {
		s.onSwitch(restored)
	}
	return nil
}

// Turn is the handle for one exclusive use of the shared engine. Decode may
// be called at most once; End releases the global turn slot and is safe to
// call multiple times and on every exit path.
type Turn struct {
	sched  *Scheduler
	source string
	once   sync.Once
}

// Decode acquires the engine lock, context-switches to the turn's source, and
// runs one incremental decode over the snapshotted chunks.
func (t *Turn) Decode(ctx context.Context, chunks [][]float32) (engine.Result, error) {
	t.sched.engineMu.Lock()
	defer t.sched.engineMu.Unlock()

	if err := t.sched.switchLocked(t.source); err != nil {
		return engine.Result{}, err
	}

	total := 0
	for _, c := range chunks {
		total += len(c)
	}
	samples := make([]float32, 0, total)
	for _, c := range chunks {
		samples = append(samples, c...)
	}

	return t.sched.eng.ProcessIncrement(ctx, samples)
}

// End releases the global turn slot. It runs unconditionally, including on
// error paths, so a failed decode can never wedge the single-flight gate.
func (t *Turn) End() {
	t.once.Do(func() {
		t.sched.mu.Lock()
		t.sched.inFlight = false
		t.sched.mu.Unlock()
	})
}

// Source returns the source id this turn was claimed for.
func (t *Turn) Source() string { return t.source }

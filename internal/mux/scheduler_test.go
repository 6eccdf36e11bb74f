package mux

import (
	"context"
	"errors"
	"sync"
	"testing"

	enginemock "github.com/voxmux/voxmux/pkg/engine/mock"
)

func newTestScheduler(t *testing.T, eng *enginemock.Engine) (*Scheduler, *Store) {
	t.Helper()
	store := NewStore(0)
	sched := NewScheduler(SchedulerConfig{Store: store, Engine: eng})
	return sched, store
}

func mustAdd(t *testing.T, store *Store, ids ...string) {
	t.Helper()
	for _, id := range ids {
		if err := store.Add(id); err != nil {
			t.Fatalf("Add(%s) error: %v", id, err)
		}
	}
}

func feed(t *testing.T, store *Store, id string, chunks ...[]float32) {
	t.Helper()
	for _, c := range chunks {
		if _, err := store.Append(id, c); err != nil {
			t.Fatalf("Append(%s) error: %v", id, err)
		}
	}
	if err := store.MarkSpeech(id); err != nil {
		t.Fatalf("MarkSpeech(%s) error: %v", id, err)
	}
}

func TestSchedulerSingleFlight(t *testing.T) {
	sched, store := newTestScheduler(t, &enginemock.Engine{})
	mustAdd(t, store, "alice", "bob")

	turn, err := sched.BeginTurn("alice")
	if err != nil {
		t.Fatalf("BeginTurn(alice) error: %v", err)
	}
	if _, err := sched.BeginTurn("bob"); !errors.Is(err, ErrTurnInFlight) {
		t.Fatalf("BeginTurn(bob) during alice's turn = %v, want ErrTurnInFlight", err)
	}

	turn.End()
	turn.End() // End is idempotent.

	if _, err := sched.BeginTurn("bob"); err != nil {
		t.Fatalf("BeginTurn(bob) after release error: %v", err)
	}
}

func TestSchedulerSingleFlightConcurrent(t *testing.T) {
	sched, store := newTestScheduler(t, &enginemock.Engine{})
	mustAdd(t, store, "alice")

	const attempts = 32
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		won      int
		rejected int
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			turn, err := sched.BeginTurn("alice")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				won++
				_ = turn // held until all attempts complete
			case errors.Is(err, ErrTurnInFlight):
				rejected++
			default:
				t.Errorf("BeginTurn unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if won != 1 {
		t.Errorf("%d goroutines claimed the turn, want exactly 1", won)
	}
	if rejected != attempts-1 {
		t.Errorf("%d rejections, want %d", rejected, attempts-1)
	}
}

func TestSchedulerEndReleasesOnErrorPath(t *testing.T) {
	eng := &enginemock.Engine{ProcessErr: errors.New("decoder exploded")}
	sched, store := newTestScheduler(t, eng)
	mustAdd(t, store, "alice")

	turn, err := sched.BeginTurn("alice")
	if err != nil {
		t.Fatalf("BeginTurn error: %v", err)
	}
	if _, err := turn.Decode(context.Background(), [][]float32{{1}}); err == nil {
		t.Fatal("Decode with failing engine returned nil error")
	}
	turn.End()

	if _, err := sched.BeginTurn("alice"); err != nil {
		t.Fatalf("turn slot still held after failed decode: %v", err)
	}
}

func TestSchedulerContextSwitchSavesAndRestores(t *testing.T) {
	eng := &enginemock.Engine{}
	sched, store := newTestScheduler(t, eng)
	mustAdd(t, store, "alice", "bob")

	decode := func(id string, chunk []float32) string {
		t.Helper()
		turn, err := sched.BeginTurn(id)
		if err != nil {
			t.Fatalf("BeginTurn(%s) error: %v", id, err)
		}
		defer turn.End()
		res, err := turn.Decode(context.Background(), [][]float32{chunk})
		if err != nil {
			t.Fatalf("Decode(%s) error: %v", id, err)
		}
		return res.Text
	}

	// Alice accumulates 3 samples of state across her first turn.
	if got := decode("alice", []float32{1, 2, 3}); got != "t3" {
		t.Fatalf("alice turn 1 text = %q, want t3", got)
	}
	// Bob starts fresh: his state must not include alice's samples.
	if got := decode("bob", []float32{9}); got != "t1" {
		t.Fatalf("bob turn 1 text = %q, want t1", got)
	}
	// Switching back restores alice's 3 samples exactly.
	if got := decode("alice", []float32{4}); got != "t4" {
		t.Fatalf("alice turn 2 text = %q, want t4", got)
	}
	// And bob's single sample survived alice's second turn.
	if got := decode("bob", []float32{8, 7}); got != "t3" {
		t.Fatalf("bob turn 2 text = %q, want t3", got)
	}

	if eng.InitCalls != 2 {
		t.Errorf("InitCalls = %d, want 2 (one fresh start per source)", eng.InitCalls)
	}
	if eng.SaveCalls != 3 {
		t.Errorf("SaveCalls = %d, want 3 (one per switch away)", eng.SaveCalls)
	}
	if eng.LoadCalls != 2 {
		t.Errorf("LoadCalls = %d, want 2 (one per switch back)", eng.LoadCalls)
	}
}

func TestSchedulerConsecutiveTurnsSameSourceSkipSwitch(t *testing.T) {
	eng := &enginemock.Engine{}
	switches := 0
	store := NewStore(0)
	sched := NewScheduler(SchedulerConfig{
		Store:    store,
		Engine:   eng,
		OnSwitch: func(bool) { switches++ },
	})
	mustAdd(t, store, "alice")

	for i := 0; i < 3; i++ {
		turn, err := sched.BeginTurn("alice")
		if err != nil {
			t.Fatalf("BeginTurn error: %v", err)
		}
		if _, err := turn.Decode(context.Background(), [][]float32{{1}}); err != nil {
			t.Fatalf("Decode error: %v", err)
		}
		turn.End()
	}

	if switches != 1 {
		t.Errorf("%d context switches for 3 consecutive turns, want 1", switches)
	}
	if eng.SaveCalls != 0 {
		t.Errorf("SaveCalls = %d, want 0 (never switched away)", eng.SaveCalls)
	}
}

func TestSchedulerOnSwitchReportsRestoreKind(t *testing.T) {
	eng := &enginemock.Engine{}
	var kinds []bool
	store := NewStore(0)
	sched := NewScheduler(SchedulerConfig{
		Store:    store,
		Engine:   eng,
		OnSwitch: func(restored bool) { kinds = append(kinds, restored) },
	})
	mustAdd(t, store, "alice", "bob")

	run := func(id string) {
		t.Helper()
		turn, err := sched.BeginTurn(id)
		if err != nil {
			t.Fatalf("BeginTurn(%s) error: %v", id, err)
		}
		defer turn.End()
		if _, err := turn.Decode(context.Background(), [][]float32{{1}}); err != nil {
			t.Fatalf("Decode(%s) error: %v", id, err)
		}
	}

	run("alice") // fresh
	run("bob")   // fresh
	run("alice") // restored

	want := []bool{false, false, true}
	if len(kinds) != len(want) {
		t.Fatalf("observed %d switches, want %d", len(kinds), len(want))
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Errorf("switch %d restored = %v, want %v", i, kinds[i], want[i])
		}
	}
}

func TestSchedulerDetachClearsEnginePosition(t *testing.T) {
	eng := &enginemock.Engine{}
	sched, store := newTestScheduler(t, eng)
	mustAdd(t, store, "alice", "bob")

	turn, err := sched.BeginTurn("alice")
	if err != nil {
		t.Fatalf("BeginTurn error: %v", err)
	}
	if _, err := turn.Decode(context.Background(), [][]float32{{1}}); err != nil {
		t.Fatalf("Decode error: %v", err)
	}
	turn.End()

	if got := sched.CurrentSource(); got != "alice" {
		t.Fatalf("CurrentSource = %q, want alice", got)
	}
	sched.Detach("alice")
	if got := sched.CurrentSource(); got != "" {
		t.Errorf("CurrentSource after Detach = %q, want empty", got)
	}
	if store.Active("alice") {
		t.Error("context still active after Detach")
	}

	// The next turn for another source must not try to save into the dead
	// context: engine starts fresh for bob without a save.
	saves := eng.SaveCalls
	turn, err = sched.BeginTurn("bob")
	if err != nil {
		t.Fatalf("BeginTurn(bob) error: %v", err)
	}
	defer turn.End()
	if _, err := turn.Decode(context.Background(), [][]float32{{2}}); err != nil {
		t.Fatalf("Decode(bob) error: %v", err)
	}
	if eng.SaveCalls != saves {
		t.Errorf("SaveCalls grew from %d to %d after Detach", saves, eng.SaveCalls)
	}
}

func TestSchedulerEligibleDelegatesPolicy(t *testing.T) {
	sched, store := newTestScheduler(t, &enginemock.Engine{})
	mustAdd(t, store, "alice", "bob")

	feed(t, store, "alice", make([][]float32, 8)...)
	feed(t, store, "bob", make([][]float32, 5)...)

	if !sched.Eligible("alice") {
		t.Error("Eligible(alice) = false, want true with 8 chunks vs bob's 5")
	}
	if sched.Eligible("bob") {
		t.Error("Eligible(bob) = true, want false while alice is more backlogged")
	}
}

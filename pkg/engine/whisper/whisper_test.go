package whisper

import "testing"

func TestNewRejectsEmptyModelPath(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Fatal("New(\"\") returned nil error")
	}
}

func TestLoadStateRejectsForeignCheckpoint(t *testing.T) {
	e := &Engine{}
	if err := e.LoadState(struct{}{}); err == nil {
		t.Fatal("LoadState accepted a checkpoint of the wrong type")
	}
}

func TestCheckpointDoesNotAliasLiveState(t *testing.T) {
	e := &Engine{maxWindow: defaultMaxWindowSamples}
	e.state = decodeState{window: []float32{1, 2, 3}, hypothesis: "hello"}

	cp, err := e.SaveState()
	if err != nil {
		t.Fatalf("SaveState error: %v", err)
	}

	// Mutating the live state must not leak into the checkpoint.
	e.state.window[0] = 99
	e.state.hypothesis = "mutated"

	if err := e.LoadState(cp); err != nil {
		t.Fatalf("LoadState error: %v", err)
	}
	if e.state.window[0] != 1 {
		t.Errorf("restored window[0] = %v, want 1", e.state.window[0])
	}
	if e.state.hypothesis != "hello" {
		t.Errorf("restored hypothesis = %q, want hello", e.state.hypothesis)
	}
}

func TestInitClearsState(t *testing.T) {
	e := &Engine{maxWindow: defaultMaxWindowSamples}
	e.state = decodeState{window: []float32{1}, hypothesis: "x"}

	if err := e.Init(); err != nil {
		t.Fatalf("Init error: %v", err)
	}
	if len(e.state.window) != 0 || e.state.hypothesis != "" {
		t.Errorf("state after Init = %+v, want empty", e.state)
	}
}

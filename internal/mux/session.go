package mux

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/voxmux/voxmux/internal/observe"
	"github.com/voxmux/voxmux/internal/transcript"
	"github.com/voxmux/voxmux/pkg/audio"
	"github.com/voxmux/voxmux/pkg/vad"
)

// DefaultRecvTimeout bounds each receive so the loop re-evaluates scheduling
// at least this often even while a source is silent.
const DefaultRecvTimeout = 100 * time.Millisecond

// Conn is the transport a Session reads audio from and writes transcripts to.
// Implementations map their native close and timeout semantics onto the
// documented Receive errors.
type Conn interface {
	// Receive blocks for the next binary audio frame. It returns
	// context.DeadlineExceeded when ctx expires with no frame, and
	// [ErrProtocol]-wrapped errors for malformed traffic (non-binary
	// messages). Any other error means the peer is gone.
	Receive(ctx context.Context) ([]byte, error)

	// SendTranscript delivers one transcript message to the peer.
	SendTranscript(ctx context.Context, msg TranscriptMessage) error
}

// ErrProtocol marks client behaviour that violates the wire contract, such as
// sending text frames or misaligned audio payloads. Sessions terminate on it.
var ErrProtocol = errors.New("mux: protocol violation")

// TranscriptMessage is the JSON message sent to a source when a turn produces
// text.
type TranscriptMessage struct {
	Type      string  `json:"type"`
	ClientID  string  `json:"client_id"`
	Text      string  `json:"text"`
	Timestamp float64 `json:"timestamp"`
}

// SessionConfig holds everything a Session needs.
type SessionConfig struct {
	// SourceID identifies this source; must be unique among active sessions.
	SourceID string

	// Channels is the interleaved channel count of incoming frames; <= 0
	// selects mono.
	Channels int

	Store     *Store
	Scheduler *Scheduler
	Tracker   *vad.Tracker
	Conn      Conn

	// Archive receives every emitted transcript, best-effort. Nil disables
	// archiving.
	Archive transcript.Store

	// RecvTimeout bounds one receive; <= 0 selects [DefaultRecvTimeout].
	RecvTimeout time.Duration

	Metrics *observe.Metrics
	Logger  *slog.Logger
}

// Session is the per-connection ingestion loop. It owns one source's life
// cycle: context registration, audio buffering, speech tracking, turn
// dispatch, and teardown.
type Session struct {
	id       string
	channels int
	store    *Store
	sched    *Scheduler
	tracker  *vad.Tracker
	conn     Conn
	archive  transcript.Store
	recvTO   time.Duration
	metrics  *observe.Metrics
	log      *slog.Logger

	turns sync.WaitGroup
}

// NewSession registers cfg.SourceID in the store and returns the session.
// Fails with [ErrDuplicateSource] when the id is already active, in which
// case no state was created and the caller should reject the connection.
func NewSession(cfg SessionConfig) (*Session, error) {
	if err := cfg.Store.Add(cfg.SourceID); err != nil {
		return nil, err
	}
	channels := cfg.Channels
	if channels <= 0 {
		channels = 1
	}
	recvTO := cfg.RecvTimeout
	if recvTO <= 0 {
		recvTO = DefaultRecvTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	return &Session{
		id:       cfg.SourceID,
		channels: channels,
		store:    cfg.Store,
		sched:    cfg.Scheduler,
		tracker:  cfg.Tracker,
		conn:     cfg.Conn,
		archive:  cfg.Archive,
		recvTO:   recvTO,
		metrics:  metrics,
		log:      logger.With("source", cfg.SourceID),
	}, nil
}

// Run drives the session until the connection closes, the context is
// cancelled, or the client violates the protocol. It always detaches the
// source on return, after waiting for any in-flight turn this session
// dispatched.
//
// Each iteration does a bounded receive, so scheduling is re-evaluated at
// least every RecvTimeout even when no audio arrives. Turns run on their own
// goroutine so a slow decode never stalls ingestion.
func (s *Session) Run(ctx context.Context) error {
	s.metrics.ActiveSources.Add(ctx, 1)
	defer func() {
		s.metrics.ActiveSources.Add(context.Background(), -1)
		s.turns.Wait()
		s.sched.Detach(s.id)
		if err := s.tracker.Reset(); err != nil {
			s.log.Debug("tracker reset on teardown failed", "error", err)
		}
		s.log.Info("session closed")
	}()

	s.log.Info("session started", "channels", s.channels)

	for {
		payload, err := s.receiveOne(ctx)
		switch {
		case err == nil:
			if perr := s.ingest(payload); perr != nil {
				s.log.Warn("protocol violation, closing session", "error", perr)
				return perr
			}
		case errors.Is(err, context.DeadlineExceeded):
			// No frame this interval; fall through to scheduling.
		case errors.Is(err, context.Canceled):
			return nil
		case errors.Is(err, ErrProtocol):
			s.log.Warn("protocol violation, closing session", "error", err)
			return err
		default:
			// Peer closed or the read failed; normal end of session.
			s.log.Debug("connection closed", "error", err)
			return nil
		}

		s.maybeDispatch(ctx)
	}
}

// receiveOne performs one receive bounded by the session's receive timeout.
func (s *Session) receiveOne(ctx context.Context) ([]byte, error) {
	rctx, cancel := context.WithTimeout(ctx, s.recvTO)
	defer cancel()
	payload, err := s.conn.Receive(rctx)
	if err != nil && ctx.Err() != nil {
		// Distinguish session cancellation from an idle interval.
		return nil, context.Cause(ctx)
	}
	return payload, err
}

// ingest decodes one frame, buffers it, and advances the speech tracker. A
// decode failure is a protocol violation; a tracker failure is logged and the
// chunk is kept without a speech verdict.
func (s *Session) ingest(payload []byte) error {
	samples, err := audio.DecodeFrame(payload, s.channels)
	if err != nil {
		return errors.Join(ErrProtocol, err)
	}

	dropped, err := s.store.Append(s.id, samples)
	if err != nil {
		// Only possible when the source raced removal; treat as closed.
		return err
	}
	if dropped > 0 {
		s.metrics.RecordDroppedChunks(context.Background(), s.id, dropped)
		s.log.Debug("buffer cap reached, dropped oldest chunks", "dropped", dropped)
	}

	res, err := s.tracker.ProcessChunk(samples)
	if err != nil {
		s.log.Warn("speech detector failed on chunk", "error", err)
		return nil
	}
	switch res.Event {
	case vad.EventStart:
		s.log.Debug("speech started")
	case vad.EventEnd:
		s.log.Debug("speech ended")
	}
	if res.Speaking {
		if err := s.store.MarkSpeech(s.id); err != nil {
			return err
		}
	}
	return nil
}

// maybeDispatch starts a decode turn when this source is the eligible one and
// no turn is in flight. The buffered audio is snapshotted and the speech flag
// cleared before the turn goroutine starts, so ingestion continues into a
// fresh buffer.
func (s *Session) maybeDispatch(ctx context.Context) {
	if !s.sched.Eligible(s.id) {
		return
	}
	turn, err := s.sched.BeginTurn(s.id)
	if err != nil {
		// Another source holds the engine; try again next interval.
		return
	}

	chunks, err := s.store.Snapshot(s.id)
	if err != nil || len(chunks) == 0 {
		turn.End()
		return
	}
	if err := s.store.ClearSpeech(s.id); err != nil {
		turn.End()
		return
	}

	// The turn must survive session teardown: a disconnect mid-decode still
	// completes (results are dropped, state is saved).
	turnCtx := context.WithoutCancel(ctx)
	s.turns.Add(1)
	go func() {
		defer s.turns.Done()
		defer turn.End()
		s.runTurn(turnCtx, turn, chunks)
	}()
}

// runTurn performs one decode and delivers its result.
func (s *Session) runTurn(ctx context.Context, turn *Turn, chunks [][]float32) {
	samples := 0
	for _, c := range chunks {
		samples += len(c)
	}

	start := time.Now()
	res, err := turn.Decode(ctx, chunks)
	elapsed := time.Since(start)
	s.metrics.RecordTurn(ctx, s.id, elapsed.Seconds())
	if err != nil {
		s.metrics.RecordEngineError(ctx, s.id)
		s.log.Error("decode turn failed", "error", err, "chunks", len(chunks), "duration", elapsed)
		return
	}
	if res.Text == "" {
		return
	}
	s.log.Info("transcript",
		"text", res.Text,
		"chunks", len(chunks),
		"audio_seconds", audio.Duration(samples),
		"duration", elapsed,
	)
	s.metrics.RecordTranscript(ctx, s.id)

	msg := TranscriptMessage{
		Type:      "transcript",
		ClientID:  s.id,
		Text:      res.Text,
		Timestamp: float64(time.Now().UnixNano()) / float64(time.Second),
	}
	if err := s.conn.SendTranscript(ctx, msg); err != nil {
		s.log.Debug("transcript delivery failed", "error", err)
	}
	if s.archive != nil {
		entry := transcript.Entry{SourceID: s.id, Text: res.Text, EmittedAt: time.Now()}
		if err := s.archive.Append(ctx, entry); err != nil {
			s.log.Warn("transcript archive append failed", "error", err)
		}
	}
}

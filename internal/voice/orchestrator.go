package voice

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/candorvoice/candor/internal/audio"
	"github.com/candorvoice/candor/internal/dialogue"
	"github.com/candorvoice/candor/internal/observability"
	"github.com/candorvoice/candor/internal/policy"
	"github.com/candorvoice/candor/internal/protocol"
	"github.com/candorvoice/candor/internal/transcript"
	"github.com/candorvoice/candor/internal/transport"
)

var (
	ErrNoPlan         = errors.New("voice: interview plan with questions is required")
	ErrAlreadyRunning = errors.New("voice: an interview is already running")
	ErrNotRunning     = errors.New("voice: no interview is running")
)

// Deps wires the orchestrator to its collaborators. Dialer, Devices and
// Analyzer are swapped for fakes in tests and for the offline simulator.
type Deps struct {
	Transport transport.Config
	Session   transport.SessionConfig
	Audio     audio.ManagerConfig

	Dialer   transport.Dialer
	Devices  audio.DeviceProvider
	Analyzer dialogue.Analyzer
	Store    transcript.Store

	Metrics *observability.Metrics
	Latency *observability.LatencyWindow
	Logger  *zap.Logger

	MaxFollowUps    int
	PlaybackWAVPath string

	// ClosingGrace is how long the closing speech is given to play out before
	// teardown after the plan completes.
	ClosingGrace time.Duration
}

// Orchestrator runs one voice interview end to end: it owns the transport
// session, the audio pipelines and the dialogue state machine, and routes
// events between them.
type Orchestrator struct {
	deps   Deps
	logger *zap.Logger

	mu          sync.Mutex
	running     bool
	interviewID string
	machine     *dialogue.Machine
	sess        *transport.Session
	mgr         *audio.Manager
	lastSummary dialogue.Summary

	// turnMu serializes candidate turns through the state machine so replies
	// go out in the order speech was recognized.
	turnMu sync.Mutex
}

func New(deps Deps) *Orchestrator {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{deps: deps, logger: logger}
}

// Start connects, starts the dialogue session, brings up audio and speaks
// the greeting. It returns once the interview is live.
func (o *Orchestrator) Start(ctx context.Context, interviewID, candidate string, plan dialogue.Plan) error {
	if plan.TotalQuestions() == 0 {
		return ErrNoPlan
	}

	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		return ErrAlreadyRunning
	}
	o.mu.Unlock()

	machine, err := dialogue.NewMachine(plan, o.deps.Analyzer, candidate, o.deps.MaxFollowUps, o.logger)
	if err != nil {
		return err
	}

	sess := transport.NewSession(o.deps.Transport, o.deps.Dialer, o.logger, transport.Hooks{
		OnFrame:          o.handleFrame,
		OnServerError:    o.handleServerError,
		OnSessionEnd:     o.handleSessionEnd,
		OnConnectionLost: o.handleConnectionLost,
		OnRecovered:      o.handleRecovered,
		OnRecoveryFailed: o.handleRecoveryFailed,
	})

	if err := sess.Connect(ctx); err != nil {
		return err
	}
	if err := sess.StartSession(ctx, o.deps.Session); err != nil {
		sess.Disconnect()
		return err
	}

	mgr := audio.NewManager(o.deps.Audio, o.deps.Devices, func(pcm []byte) error {
		if err := sess.SendAudio(pcm); err != nil {
			return err
		}
		o.deps.Metrics.IncAudioChunk("sent")
		return nil
	}, o.logger)
	if o.deps.PlaybackWAVPath != "" {
		tap, err := audio.NewWAVTap(o.deps.PlaybackWAVPath, o.deps.Audio.Playback)
		if err != nil {
			o.logger.Warn("playback tap unavailable", zap.Error(err))
		} else {
			mgr.SetPlaybackTap(tap)
		}
	}
	mgr.Start()

	o.mu.Lock()
	o.running = true
	o.interviewID = interviewID
	o.machine = machine
	o.sess = sess
	o.mgr = mgr
	o.mu.Unlock()
	o.deps.Metrics.SetActiveInterviews(1)

	go func() {
		if err := sess.Run(context.Background()); err != nil {
			o.logger.Warn("session loop exited", zap.Error(err))
		}
	}()

	opening, err := machine.Open(ctx)
	if err != nil {
		o.logger.Warn("conversation open failed", zap.Error(err))
	} else {
		o.speak(sess, opening)
	}

	o.logger.Info("interview started",
		zap.String("interview_id", interviewID),
		zap.String("candidate", candidate),
		zap.Int("questions", plan.TotalQuestions()))
	return nil
}

// Stop tears down audio and transport, persists the redacted transcript, and
// returns the final dialogue summary. Safe to call more than once.
func (o *Orchestrator) Stop(ctx context.Context) (dialogue.Summary, error) {
	o.mu.Lock()
	if !o.running {
		summary := o.lastSummary
		o.mu.Unlock()
		return summary, nil
	}
	o.running = false
	interviewID := o.interviewID
	machine := o.machine
	sess := o.sess
	mgr := o.mgr
	o.mu.Unlock()

	mgr.Stop()
	sess.FinishSession()
	sess.Disconnect()
	o.deps.Metrics.SetActiveInterviews(0)

	summary := machine.Summary()
	o.mu.Lock()
	o.lastSummary = summary
	o.mu.Unlock()

	if o.deps.Store != nil {
		records := redactedRecords(interviewID, machine.Transcript())
		go func() {
			saveCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := o.deps.Store.SaveTranscript(saveCtx, interviewID, records); err != nil {
				o.logger.Error("transcript save failed",
					zap.String("interview_id", interviewID), zap.Error(err))
			}
		}()
	}

	o.logger.Info("interview stopped",
		zap.String("interview_id", interviewID),
		zap.String("dialogue_state", string(summary.State)),
		zap.Int("turns", summary.Turns))
	return summary, nil
}

// AddSupervisorInstruction queues supervisor guidance for the next turn.
func (o *Orchestrator) AddSupervisorInstruction(text string) error {
	o.mu.Lock()
	machine := o.machine
	running := o.running
	o.mu.Unlock()
	if !running {
		return ErrNotRunning
	}
	machine.AddInstruction(text)
	o.logger.Info("supervisor instruction queued", zap.String("instruction", text))
	return nil
}

// Status reports the live health of the interview across all layers.
type Status struct {
	Running     bool                       `json:"running"`
	InterviewID string                     `json:"interview_id,omitempty"`
	Transport   transport.Status           `json:"transport"`
	Audio       audio.Snapshot             `json:"audio"`
	Dialogue    dialogue.Summary           `json:"dialogue"`
	TurnLatency observability.LatencyStats `json:"turn_latency"`
}

func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()

	status := Status{Running: o.running, InterviewID: o.interviewID, Dialogue: o.lastSummary}
	if o.sess != nil {
		status.Transport = o.sess.Status()
	}
	if o.mgr != nil {
		status.Audio = o.mgr.Snapshot()
	}
	if o.machine != nil {
		status.Dialogue = o.machine.Summary()
	}
	if o.deps.Latency != nil {
		status.TurnLatency = o.deps.Latency.Snapshot()
	}
	return status
}

// Transcript returns the redacted transcript accumulated so far.
func (o *Orchestrator) Transcript() []transcript.Record {
	o.mu.Lock()
	machine := o.machine
	interviewID := o.interviewID
	o.mu.Unlock()
	if machine == nil {
		return nil
	}
	return redactedRecords(interviewID, machine.Transcript())
}

func (o *Orchestrator) handleFrame(f protocol.Frame) {
	o.deps.Metrics.IncFrame("in", f.Kind.String())

	o.mu.Lock()
	mgr := o.mgr
	running := o.running
	o.mu.Unlock()
	if !running {
		return
	}

	switch f.Kind {
	case protocol.KindServerAck:
		// Synthesized interviewer speech arrives as raw PCM.
		if len(f.Payload) > 0 {
			mgr.EnqueuePlayback(f.Payload)
			o.deps.Metrics.IncAudioChunk("playback")
			o.deps.Metrics.SetPlaybackQueueDepth(mgr.Snapshot().QueueDepth)
		}
	case protocol.KindServerFullResponse:
		if f.Flags.HasEvent() && f.Event == protocol.EventPlaybackFlush {
			flushed := mgr.Flush()
			o.logger.Debug("playback flushed", zap.Int("chunks", flushed))
			return
		}
		var body struct {
			Text string `json:"text"`
		}
		if err := f.PayloadJSON(&body); err != nil || body.Text == "" {
			return
		}
		o.onCandidateSpeech(body.Text)
	}
}

// onCandidateSpeech runs one recognized utterance through the dialogue
// machine and speaks the reply.
func (o *Orchestrator) onCandidateSpeech(text string) {
	o.mu.Lock()
	machine := o.machine
	sess := o.sess
	o.mu.Unlock()
	if machine == nil {
		return
	}

	o.turnMu.Lock()
	start := time.Now()
	failuresBefore := machine.Summary().AnalyzerFailures
	reply := machine.HandleCandidateInput(context.Background(), text)
	elapsed := time.Since(start)
	if machine.Summary().AnalyzerFailures > failuresBefore {
		o.deps.Metrics.IncAnalyzerFailure()
	}
	o.turnMu.Unlock()

	o.deps.Metrics.ObserveTurnLatency(elapsed)
	if o.deps.Latency != nil {
		o.deps.Latency.Observe(elapsed)
	}

	if reply != "" {
		o.speak(sess, reply)
	}
	if machine.State() == dialogue.StateCompleted {
		o.logger.Info("interview plan exhausted, wrapping up")
		go func() {
			// Leave time for the closing speech to be synthesized and played.
			time.Sleep(o.closingGrace())
			if _, err := o.Stop(context.Background()); err != nil {
				o.logger.Warn("stop after completion failed", zap.Error(err))
			}
		}()
	}
}

func (o *Orchestrator) handleServerError(code uint32, payload []byte) {
	o.logger.Error("unrecoverable server error",
		zap.Uint32("code", code), zap.ByteString("payload", payload))
	o.endDegraded()
}

func (o *Orchestrator) handleSessionEnd(event uint32) {
	o.logger.Info("server ended the session", zap.Uint32("event", event))
	go func() {
		if _, err := o.Stop(context.Background()); err != nil {
			o.logger.Warn("stop after session end failed", zap.Error(err))
		}
	}()
}

func (o *Orchestrator) handleConnectionLost(err error) {
	o.logger.Warn("connection lost", zap.Error(err))
	o.endDegraded()
}

func (o *Orchestrator) handleRecovered(attempt int) {
	o.deps.Metrics.IncSessionRecovery()
	o.logger.Info("session recovered, interview continues", zap.Int("attempt", attempt))
}

func (o *Orchestrator) handleRecoveryFailed(err error) {
	o.logger.Error("session recovery exhausted", zap.Error(err))
	o.endDegraded()
}

// endDegraded closes the interview record cleanly when the network side is
// beyond saving. The closing script still lands in the transcript even
// though it can no longer be spoken.
func (o *Orchestrator) endDegraded() {
	o.mu.Lock()
	machine := o.machine
	o.mu.Unlock()
	if machine != nil {
		machine.DriveToClosing()
	}
	go func() {
		if _, err := o.Stop(context.Background()); err != nil {
			o.logger.Warn("degraded stop failed", zap.Error(err))
		}
	}()
}

func (o *Orchestrator) speak(sess *transport.Session, text string) {
	if err := sess.SendText(text); err != nil {
		o.logger.Warn("interviewer speech not sent", zap.Error(err))
		return
	}
	o.deps.Metrics.IncFrame("out", "tts_text")
}

func (o *Orchestrator) closingGrace() time.Duration {
	if o.deps.ClosingGrace > 0 {
		return o.deps.ClosingGrace
	}
	return 500 * time.Millisecond
}

func redactedRecords(interviewID string, turns []dialogue.Turn) []transcript.Record {
	records := make([]transcript.Record, 0, len(turns))
	for _, turn := range turns {
		text, changed := policy.RedactPII(turn.Text)
		records = append(records, transcript.Record{
			InterviewID: interviewID,
			Speaker:     string(turn.Speaker),
			Text:        text,
			Kind:        turn.Kind,
			PIIRedacted: changed,
			SpokenAt:    turn.Timestamp,
		})
	}
	return records
}

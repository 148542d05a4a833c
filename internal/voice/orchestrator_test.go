package voice

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/candorvoice/candor/internal/audio"
	"github.com/candorvoice/candor/internal/dialogue"
	"github.com/candorvoice/candor/internal/protocol"
	"github.com/candorvoice/candor/internal/transcript"
	"github.com/candorvoice/candor/internal/transport"
)

type fakeConn struct {
	mu     sync.Mutex
	writes [][]byte
	reads  chan []byte
	closed chan struct{}
	once   sync.Once
}

func newFakeConn(frames ...[]byte) *fakeConn {
	c := &fakeConn{reads: make(chan []byte, 64), closed: make(chan struct{})}
	for _, f := range frames {
		c.reads <- f
	}
	return c
}

func (c *fakeConn) ReadMessage() ([]byte, error) {
	select {
	case data := <-c.reads:
		return data, nil
	case <-c.closed:
		return nil, errors.New("use of closed network connection")
	}
}

func (c *fakeConn) WriteMessage(data []byte) error {
	c.mu.Lock()
	c.writes = append(c.writes, append([]byte(nil), data...))
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) SetReadDeadline(time.Time) error { return nil }

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

// spokenLines decodes every outbound TTS request on the conn.
func (c *fakeConn) spokenLines(t *testing.T) []string {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	var lines []string
	for _, data := range c.writes {
		frame, err := protocol.Decode(data)
		if err != nil {
			t.Fatalf("decode outbound frame: %v", err)
		}
		if frame.Flags.HasEvent() && frame.Event == protocol.EventTTSText {
			var body struct {
				Text string `json:"text"`
			}
			if err := frame.PayloadJSON(&body); err != nil {
				t.Fatalf("decode tts payload: %v", err)
			}
			lines = append(lines, body.Text)
		}
	}
	return lines
}

type fakeDialer struct {
	conn *fakeConn
}

func (d *fakeDialer) Dial(context.Context, string, http.Header) (transport.Conn, error) {
	return d.conn, nil
}

func serverFrame(t *testing.T, kind protocol.MessageKind, event uint32, payload []byte, serialization protocol.Serialization) []byte {
	t.Helper()
	flags := protocol.FlagNone
	if event != 0 {
		flags = protocol.FlagWithEvent
	}
	data, err := protocol.Encode(protocol.Frame{
		Kind:          kind,
		Flags:         flags,
		Serialization: serialization,
		Compression:   protocol.CompressionNone,
		Event:         event,
		SessionID:     "s",
		Payload:       payload,
	})
	if err != nil {
		t.Fatalf("encode server frame: %v", err)
	}
	return data
}

func handshakeFrames(t *testing.T) [][]byte {
	t.Helper()
	return [][]byte{
		serverFrame(t, protocol.KindServerFullResponse, 50, []byte(`{}`), protocol.SerializationJSON),
		serverFrame(t, protocol.KindServerFullResponse, 150, []byte(`{}`), protocol.SerializationJSON),
	}
}

func recognizedText(t *testing.T, text string) []byte {
	t.Helper()
	return serverFrame(t, protocol.KindServerFullResponse, 451,
		[]byte(`{"text":"`+text+`"}`), protocol.SerializationJSON)
}

func testDeps(conn *fakeConn, store transcript.Store) Deps {
	return Deps{
		Transport: transport.Config{
			URL:                 "wss://example.test/realtime/dialogue",
			AppID:               "app",
			AccessKey:           "key",
			ResourceID:          "volc.speech.dialog",
			AppKey:              "PlgvMymc7f3tQnJ6",
			MaxRecoveryAttempts: 2,
			RecoveryBackoffBase: time.Millisecond,
			RecoveryBackoffCap:  2 * time.Millisecond,
			DisconnectAckWait:   5 * time.Millisecond,
		},
		Session: transport.SessionConfig{
			TTS: transport.TTSConfig{AudioConfig: transport.AudioConfig{
				Channel: 1, Format: "pcm", SampleRate: 24000,
			}},
			Dialog: transport.DialogConfig{BotName: "candor"},
		},
		Audio: audio.ManagerConfig{
			Capture:            audio.StreamConfig{Format: "pcm", BitDepth: 16, Channels: 1, SampleRate: 16000, ChunkSamples: 8},
			Playback:           audio.StreamConfig{Format: "pcm", BitDepth: 16, Channels: 1, SampleRate: 24000, ChunkSamples: 8},
			PlaybackQueueDepth: 8,
			SendQueueDepth:     4,
			HandoffTimeout:     10 * time.Millisecond,
		},
		Dialer:       &fakeDialer{conn: conn},
		Devices:      audio.NullDeviceProvider{},
		Analyzer:     dialogue.MockAnalyzer{},
		Store:        store,
		Logger:       zap.NewNop(),
		MaxFollowUps: 2,
		ClosingGrace: time.Millisecond,
	}
}

func testInterviewPlan() dialogue.Plan {
	return dialogue.Plan{
		Sections: []dialogue.Section{
			{Name: "experience", Questions: []dialogue.Question{
				{Text: "Tell me about your most recent production system."},
				{Text: "How did you measure its reliability?"},
			}},
		},
	}
}

// Long enough that the mock analyzer never asks a follow-up.
const fullAnswer = "I designed and operated a stream processing platform handling millions of events daily with clear ownership and runbooks."

func TestStartRequiresPlan(t *testing.T) {
	o := New(testDeps(newFakeConn(), transcript.NewMemoryStore()))
	if err := o.Start(context.Background(), "iv", "Ada", dialogue.Plan{}); !errors.Is(err, ErrNoPlan) {
		t.Fatalf("Start() error = %v, want ErrNoPlan", err)
	}
}

func TestInterviewRunsToCompletion(t *testing.T) {
	conn := newFakeConn(handshakeFrames(t)...)
	store := transcript.NewMemoryStore()
	o := New(testDeps(conn, store))

	if err := o.Start(context.Background(), "iv-1", "Ada", testInterviewPlan()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := o.Start(context.Background(), "iv-2", "Grace", testInterviewPlan()); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("second Start() error = %v, want ErrAlreadyRunning", err)
	}

	// The greeting must have been spoken before Start returned, and it must
	// not jump ahead to the first question.
	lines := conn.spokenLines(t)
	if len(lines) != 1 || !strings.Contains(lines[0], "Ada") {
		t.Fatalf("spoken = %v, want a greeting naming the candidate", lines)
	}
	if strings.Contains(lines[0], "recent production system") {
		t.Fatalf("greeting = %q, first question must wait for the candidate", lines[0])
	}

	// The candidate's hello draws the first question.
	conn.reads <- recognizedText(t, "Thanks, ready when you are.")
	waitForLine(t, conn, "recent production system")

	// Interviewer audio flows in and is absorbed by the simulated speaker.
	conn.reads <- serverFrame(t, protocol.KindServerAck, 0, []byte{1, 2, 3, 4}, protocol.SerializationRaw)

	conn.reads <- recognizedText(t, fullAnswer)
	waitForLine(t, conn, "measure its reliability")

	// A playback flush mid-interview must not disturb the dialogue.
	conn.reads <- serverFrame(t, protocol.KindServerFullResponse, protocol.EventPlaybackFlush, []byte(`{}`), protocol.SerializationJSON)

	conn.reads <- recognizedText(t, fullAnswer)
	waitForLine(t, conn, dialogue.DefaultClosingScript[0])

	// Completion triggers teardown and transcript persistence.
	deadline := time.Now().Add(2 * time.Second)
	for o.Status().Running {
		if time.Now().After(deadline) {
			t.Fatal("orchestrator still running after plan completion")
		}
		time.Sleep(2 * time.Millisecond)
	}

	var records []transcript.Record
	for time.Now().Before(deadline) {
		var err error
		records, err = store.GetTranscript(context.Background(), "iv-1")
		if err != nil {
			t.Fatalf("GetTranscript() error = %v", err)
		}
		if len(records) > 0 {
			break
		}
		time.Sleep(2 * time.Millisecond)
	}
	if len(records) == 0 {
		t.Fatal("transcript never persisted")
	}

	var sawCandidate, sawClosing bool
	for _, r := range records {
		if r.Speaker == "candidate" {
			sawCandidate = true
		}
		if r.Kind == "closing" {
			sawClosing = true
		}
	}
	if !sawCandidate || !sawClosing {
		t.Fatalf("transcript records = %+v, missing candidate answers or closing", records)
	}

	summary := o.Status().Dialogue
	if summary.State != dialogue.StateCompleted {
		t.Fatalf("final state = %s, want completed", summary.State)
	}
}

func TestTranscriptIsRedacted(t *testing.T) {
	conn := newFakeConn(handshakeFrames(t)...)
	store := transcript.NewMemoryStore()
	o := New(testDeps(conn, store))

	if err := o.Start(context.Background(), "iv-pii", "Ada", testInterviewPlan()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	conn.reads <- recognizedText(t, "You can reach me afterwards at ada@example.com for the details of everything I built there.")
	waitForLine(t, conn, "recent production system")

	if _, err := o.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		records, err := store.GetTranscript(context.Background(), "iv-pii")
		if err != nil {
			t.Fatalf("GetTranscript() error = %v", err)
		}
		if len(records) > 0 {
			for _, r := range records {
				if strings.Contains(r.Text, "ada@example.com") {
					t.Fatalf("record %q leaked PII", r.Text)
				}
				if r.Speaker == "candidate" && !r.PIIRedacted {
					t.Fatal("candidate record with PII not flagged as redacted")
				}
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("transcript never persisted")
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestSupervisorInstructionFlowsIntoDialogue(t *testing.T) {
	conn := newFakeConn(handshakeFrames(t)...)
	o := New(testDeps(conn, transcript.NewMemoryStore()))

	if err := o.Start(context.Background(), "iv-sup", "Ada", testInterviewPlan()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	conn.reads <- recognizedText(t, "Hello, good to meet you.")
	waitForLine(t, conn, "recent production system")

	if err := o.AddSupervisorInstruction("please move on to the next question"); err != nil {
		t.Fatalf("AddSupervisorInstruction() error = %v", err)
	}

	conn.reads <- recognizedText(t, fullAnswer)
	waitForLine(t, conn, "measure its reliability")

	if got := o.Status().Dialogue.Interventions; got != 1 {
		t.Fatalf("interventions = %d, want 1", got)
	}
	if _, err := o.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
}

func TestInstructionRejectedWhenNotRunning(t *testing.T) {
	o := New(testDeps(newFakeConn(), transcript.NewMemoryStore()))
	if err := o.AddSupervisorInstruction("probe deeper"); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("AddSupervisorInstruction() error = %v, want ErrNotRunning", err)
	}
}

func TestStopIsPromptAndIdempotent(t *testing.T) {
	conn := newFakeConn(handshakeFrames(t)...)
	o := New(testDeps(conn, transcript.NewMemoryStore()))

	if err := o.Start(context.Background(), "iv-stop", "Ada", testInterviewPlan()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	start := time.Now()
	first, err := o.Stop(context.Background())
	if err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if elapsed := time.Since(start); elapsed > 200*time.Millisecond {
		t.Fatalf("Stop blocked for %v", elapsed)
	}

	second, err := o.Stop(context.Background())
	if err != nil {
		t.Fatalf("second Stop() error = %v", err)
	}
	if first.Turns != second.Turns || first.State != second.State {
		t.Fatalf("summaries diverged: %+v vs %+v", first, second)
	}
	if o.Status().Running {
		t.Fatal("still running after Stop")
	}
}

func waitForLine(t *testing.T, conn *fakeConn, substr string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		for _, line := range conn.spokenLines(t) {
			if strings.Contains(line, substr) {
				return
			}
		}
		if time.Now().After(deadline) {
			t.Fatalf("interviewer never said %q; spoken = %v", substr, conn.spokenLines(t))
		}
		time.Sleep(2 * time.Millisecond)
	}
}

// Command interviewsim runs a full interview offline: a loopback dialer plays
// the dialogue service, the mock analyzer plays the brain and scripted answers
// play the candidate. Useful for exercising the pipeline without credentials,
// microphones or network access.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/candorvoice/candor/internal/audio"
	"github.com/candorvoice/candor/internal/dialogue"
	"github.com/candorvoice/candor/internal/observability"
	"github.com/candorvoice/candor/internal/protocol"
	"github.com/candorvoice/candor/internal/transcript"
	"github.com/candorvoice/candor/internal/transport"
	"github.com/candorvoice/candor/internal/voice"
)

type options struct {
	candidate   string
	answerDelay time.Duration
	timeout     time.Duration
	verbose     bool
}

var scriptedAnswers = []string{
	"Thanks for having me, I'm ready to get started.",
	"Short answer.",
	"I spent the last two years building the ingestion service for our analytics platform, owning it from design through the on-call rotation.",
	"Could you repeat the question?",
	"We settled on idempotent writes keyed by event id, which let us replay any window of traffic after an outage without double counting.",
	"I would shard by account id, keep a token bucket per shard in memory and reconcile counters asynchronously so the hot path never blocks.",
}

func samplePlan() dialogue.Plan {
	return dialogue.Plan{
		Sections: []dialogue.Section{
			{Name: "background", Questions: []dialogue.Question{
				{Text: "Walk me through the system you are most proud of."},
				{Text: "What failure taught you the most there?"},
			}},
			{Name: "systems design", Questions: []dialogue.Question{
				{Text: "How would you design a rate limiter for a multi-tenant API?"},
			}},
		},
	}
}

func main() {
	opts := parseFlags()

	logger := zap.NewNop()
	if opts.verbose {
		var err error
		if logger, err = zap.NewDevelopment(); err != nil {
			log.Fatalf("logger init failed: %v", err)
		}
	}

	store := transcript.NewMemoryStore()
	dialer := newLoopbackDialer(opts.answerDelay)

	orchestrator := voice.New(voice.Deps{
		Transport: transport.Config{
			URL:        "wss://loopback.invalid/realtime/dialogue",
			AppID:      "sim",
			AccessKey:  "sim",
			ResourceID: "volc.speech.dialog",
			AppKey:     "PlgvMymc7f3tQnJ6",
		},
		Session: transport.SessionConfig{
			TTS: transport.TTSConfig{AudioConfig: transport.AudioConfig{
				Channel: 1, Format: "pcm", SampleRate: 24000,
			}},
			Dialog: transport.DialogConfig{BotName: "candor"},
		},
		Audio:        audio.ManagerConfig{},
		Dialer:       dialer,
		Devices:      audio.NullDeviceProvider{},
		Analyzer:     dialogue.MockAnalyzer{},
		Store:        store,
		Latency:      observability.NewLatencyWindow(0),
		Logger:       logger,
		MaxFollowUps: dialogue.DefaultMaxFollowUps,
		ClosingGrace: 50 * time.Millisecond,
	})

	ctx, cancel := context.WithTimeout(context.Background(), opts.timeout)
	defer cancel()

	const interviewID = "sim-interview"
	if err := orchestrator.Start(ctx, interviewID, opts.candidate, samplePlan()); err != nil {
		log.Fatalf("interview start failed: %v", err)
	}

	for orchestrator.Status().Running {
		select {
		case <-ctx.Done():
			log.Fatalf("interview did not finish within %v", opts.timeout)
		case <-time.After(20 * time.Millisecond):
		}
	}

	records := waitForTranscript(ctx, store, interviewID)
	summary := orchestrator.Status().Dialogue

	fmt.Printf("interview %s finished: state=%s questions=%d/%d follow_ups=%d turns=%d\n\n",
		interviewID, summary.State, summary.Asked, summary.Total, summary.FollowUps, summary.Turns)
	for _, r := range records {
		redacted := ""
		if r.PIIRedacted {
			redacted = " [redacted]"
		}
		fmt.Printf("%-12s (%s)%s: %s\n", r.Speaker, r.Kind, redacted, r.Text)
	}
}

func parseFlags() options {
	var opts options
	flag.StringVar(&opts.candidate, "candidate", "Ada", "candidate name used in the greeting")
	flag.DurationVar(&opts.answerDelay, "answer-delay", 30*time.Millisecond, "delay before each scripted answer")
	flag.DurationVar(&opts.timeout, "timeout", 30*time.Second, "overall run deadline")
	flag.BoolVar(&opts.verbose, "v", false, "enable development logging")
	flag.Parse()
	if opts.candidate == "" {
		fmt.Fprintln(os.Stderr, "candidate name must not be empty")
		os.Exit(2)
	}
	return opts
}

func waitForTranscript(ctx context.Context, store transcript.Store, interviewID string) []transcript.Record {
	for {
		records, err := store.GetTranscript(ctx, interviewID)
		if err != nil {
			log.Fatalf("transcript fetch failed: %v", err)
		}
		if len(records) > 0 {
			return records
		}
		select {
		case <-ctx.Done():
			log.Fatalf("transcript was never persisted")
		case <-time.After(20 * time.Millisecond):
		}
	}
}

// loopbackDialer hands out a single in-process connection that mimics the
// dialogue service closely enough for the transport handshake and the
// question/answer loop.
type loopbackDialer struct {
	answerDelay time.Duration
}

func newLoopbackDialer(answerDelay time.Duration) *loopbackDialer {
	return &loopbackDialer{answerDelay: answerDelay}
}

func (d *loopbackDialer) Dial(context.Context, string, http.Header) (transport.Conn, error) {
	return &loopbackConn{
		reads:       make(chan []byte, 64),
		closed:      make(chan struct{}),
		answerDelay: d.answerDelay,
	}, nil
}

type loopbackConn struct {
	reads       chan []byte
	closed      chan struct{}
	closeOnce   sync.Once
	answerDelay time.Duration

	mu         sync.Mutex
	nextAnswer int
}

func (c *loopbackConn) ReadMessage() ([]byte, error) {
	select {
	case data := <-c.reads:
		return data, nil
	case <-c.closed:
		return nil, fmt.Errorf("loopback connection closed")
	}
}

// WriteMessage reacts to client frames the way the real service would:
// handshakes are acknowledged, spoken questions draw the next scripted answer
// and session finish is confirmed with a session-ended event.
func (c *loopbackConn) WriteMessage(data []byte) error {
	frame, err := protocol.Decode(data)
	if err != nil {
		return fmt.Errorf("loopback decode: %w", err)
	}
	if frame.Kind == protocol.KindClientAudioOnly || !frame.Flags.HasEvent() {
		return nil
	}

	switch frame.Event {
	case protocol.EventConnectionOpen:
		c.respond(protocol.KindServerFullResponse, 50, frame.SessionID, []byte(`{}`))
	case protocol.EventSessionStart:
		c.respond(protocol.KindServerFullResponse, 150, frame.SessionID, []byte(`{}`))
	case protocol.EventTTSText:
		c.maybeAnswer(frame.SessionID)
	case protocol.EventSessionFinish:
		c.respond(protocol.KindServerFullResponse, protocol.EventSessionEnded, frame.SessionID, []byte(`{}`))
	}
	return nil
}

func (c *loopbackConn) maybeAnswer(sessionID string) {
	c.mu.Lock()
	if c.nextAnswer >= len(scriptedAnswers) {
		c.mu.Unlock()
		return
	}
	answer := scriptedAnswers[c.nextAnswer]
	c.nextAnswer++
	c.mu.Unlock()

	go func() {
		select {
		case <-time.After(c.answerDelay):
		case <-c.closed:
			return
		}
		payload, err := json.Marshal(map[string]string{"text": answer})
		if err != nil {
			return
		}
		c.respond(protocol.KindServerFullResponse, 451, sessionID, payload)
	}()
}

func (c *loopbackConn) respond(kind protocol.MessageKind, event uint32, sessionID string, payload []byte) {
	data, err := protocol.Encode(protocol.Frame{
		Kind:          kind,
		Flags:         protocol.FlagWithEvent,
		Serialization: protocol.SerializationJSON,
		Compression:   protocol.CompressionNone,
		Event:         event,
		SessionID:     sessionID,
		Payload:       payload,
	})
	if err != nil {
		return
	}
	select {
	case c.reads <- data:
	case <-c.closed:
	}
}

func (c *loopbackConn) SetReadDeadline(time.Time) error { return nil }

func (c *loopbackConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

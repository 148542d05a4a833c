package reliability

import (
	"encoding/json"
	"strings"
	"time"
)

// ErrorClass describes what a server error frame demands from the client.
type ErrorClass int

const (
	// ClassFatal errors end the conversation; there is nothing to retry.
	ClassFatal ErrorClass = iota
	// ClassRecreateSession errors require abandoning the current session id
	// and establishing a fresh session, usually without dropping the socket.
	ClassRecreateSession
)

func (c ErrorClass) String() string {
	if c == ClassRecreateSession {
		return "recreate_session"
	}
	return "fatal"
}

// recreateHints are the substrings the service is known to emit for the
// recreate-session condition. The structured tag below is preferred; the
// substring match remains for compatibility with older service builds.
var recreateHints = []string{
	"recreate session",
	"session expired",
	"session has expired",
}

type errorPayload struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
	Message string `json:"message"`
}

// ClassifyServerError classifies a decoded server error payload. It prefers a
// structured error tag and falls back to substring detection.
func ClassifyServerError(code uint32, payload []byte) ErrorClass {
	var body errorPayload
	if err := json.Unmarshal(payload, &body); err == nil {
		switch strings.ToLower(strings.TrimSpace(body.Error.Type)) {
		case "session_expired", "recreate_session":
			return ClassRecreateSession
		}
		if hasRecreateHint(body.Error.Message) || hasRecreateHint(body.Message) {
			return ClassRecreateSession
		}
	}
	if hasRecreateHint(string(payload)) {
		return ClassRecreateSession
	}
	return ClassFatal
}

func hasRecreateHint(s string) bool {
	s = strings.ToLower(s)
	for _, hint := range recreateHints {
		if strings.Contains(s, hint) {
			return true
		}
	}
	return false
}

// IsRetryableCloseCode classifies websocket close codes that justify a
// reconnect attempt.
func IsRetryableCloseCode(code int) bool {
	switch code {
	case 1001, 1006, 1011, 1012, 1013:
		return true
	default:
		return false
	}
}

// ExponentialBackoff computes a deterministic capped backoff duration.
func ExponentialBackoff(attempt int, base, cap time.Duration) time.Duration {
	if attempt <= 0 {
		return base
	}
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= cap {
			return cap
		}
	}
	return d
}

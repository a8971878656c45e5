package sandbox

import (
	"encoding/json"
	"strings"
)

// MessageType tags a message flowing from the sandbox to the host.
type MessageType string

const (
	TypeLog    MessageType = "log"
	TypeError  MessageType = "error"
	TypeWarn   MessageType = "warn"
	TypeTable  MessageType = "table"
	TypeStatus MessageType = "status"

	// TypeResult carries the JSON-encoded return value of a function run.
	TypeResult MessageType = "result"
	// typeActivity is consumed by the watchdog and never leaves the session.
	typeActivity MessageType = "activity"
)

// Status is the payload of a status message.
type Status string

const (
	StatusRunning          Status = "running"
	StatusDone             Status = "done"
	StatusIdleTimeout      Status = "idle-timeout"
	StatusStoppedByUser    Status = "stopped-by-user"
	StatusError            Status = "error"
	StatusKeepAliveEnabled Status = "keep-alive-enabled"
	StatusDeadlineExceeded Status = "deadline-exceeded"
)

// Terminal reports whether the status ends a sandbox run.
func (s Status) Terminal() bool {
	switch s {
	case StatusDone, StatusIdleTimeout, StatusStoppedByUser, StatusError, StatusDeadlineExceeded:
		return true
	}
	return false
}

// TimedOut reports whether the run was reclaimed by a watchdog or deadline.
func (s Status) TimedOut() bool {
	return s == StatusIdleTimeout || s == StatusDeadlineExceeded
}

// Message is one event of the worker to host protocol.
type Message struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Text returns the payload as a string; JSON strings are unquoted, other
// payloads are returned verbatim.
func (m Message) Text() string {
	if len(m.Payload) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(m.Payload, &s); err == nil {
		return s
	}
	return string(m.Payload)
}

// Status returns the status carried by a status message.
func (m Message) Status() Status {
	if m.Type != TypeStatus {
		return ""
	}
	return Status(m.Text())
}

// Command is a host to worker message: either code to run or STOP. Nonce
// is sent with the code and prefixes every protocol line the worker writes.
type Command struct {
	Type  string `json:"type,omitempty"`
	Code  string `json:"code,omitempty"`
	Input string `json:"input,omitempty"`
	Nonce string `json:"nonce,omitempty"`
}

// StopCommand asks the worker to cancel its timers and exit.
var StopCommand = Command{Type: "STOP"}

// NewMessage builds a message with a JSON string payload.
func NewMessage(t MessageType, payload string) Message {
	raw, _ := json.Marshal(payload)
	return Message{Type: t, Payload: raw}
}

func statusMessage(s Status) Message {
	return NewMessage(TypeStatus, string(s))
}

// nonceSeparator follows the session nonce on a protocol line.
const nonceSeparator = "\t"

// EncodeLine frames m as the worker does: nonce, separator, JSON message.
func EncodeLine(nonce string, m Message) string {
	data, _ := json.Marshal(m)
	return nonce + nonceSeparator + string(data)
}

// decodeLine parses one stdout line. Only lines carrying the session nonce are
// protocol messages; anything else, including JSON a program printed itself,
// is surfaced as log output. Text written before the nonce on the same line
// is kept as its own log message.
func decodeLine(line, nonce string) []Message {
	if nonce != "" {
		if i := strings.Index(line, nonce+nonceSeparator); i >= 0 {
			var m Message
			body := line[i+len(nonce)+len(nonceSeparator):]
			if err := json.Unmarshal([]byte(body), &m); err == nil && m.Type != "" {
				if i == 0 {
					return []Message{m}
				}
				return []Message{NewMessage(TypeLog, line[:i]), m}
			}
		}
	}
	return []Message{NewMessage(TypeLog, line)}
}

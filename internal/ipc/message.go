// Package ipc implements the Agent IPC Supervisor: a local stream-socket
// server the code-generating child process connects to, plus the client
// side used by tests and by any in-process stand-in for a real child.
// Live connections are tracked in an active-map-under-a-mutex registry
// keyed by request id, with no cap on its size; the socket-server lifecycle (listen,
// accept loop, retry-with-backoff, graceful drain) follows the usual
// shape for a long-lived RPC server: listener setup, connection
// registry, health-check ticker.
package ipc

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// MessageType enumerates the IPC envelope's type field.
type MessageType string

const (
	TypeStatus       MessageType = "status"
	TypeProgress     MessageType = "progress"
	TypeFilesChanged MessageType = "files_changed"
	TypeCodeChanges  MessageType = "code_changes"
	TypeError        MessageType = "error"
	TypeComplete     MessageType = "complete"
	TypeAck          MessageType = "ack"
)

// Message is one newline-delimited JSON envelope exchanged over the IPC
// socket.
type Message struct {
	Type      MessageType     `json:"type"`
	SessionID string          `json:"sessionId"`
	RequestID string          `json:"requestId"`
	Timestamp int64           `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// envelopeSchema is the JSON Schema the message envelope (not the
// payload union, which varies by type) must satisfy. Validating inbound
// lines against it before dispatch catches malformed children early,
// in the same place a parse failure would be caught.
const envelopeSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["type", "sessionId", "requestId", "timestamp"],
  "properties": {
    "type": {"enum": ["status", "progress", "files_changed", "code_changes", "error", "complete", "ack"]},
    "sessionId": {"type": "string", "minLength": 1},
    "requestId": {"type": "string", "minLength": 1},
    "timestamp": {"type": "integer"}
  }
}`

var compiledEnvelopeSchema *jsonschema.Schema

func init() {
	c := jsonschema.NewCompiler()
	if err := c.AddResource("devloop-envelope.json", strings.NewReader(envelopeSchema)); err != nil {
		panic(fmt.Sprintf("ipc: invalid embedded envelope schema: %v", err))
	}
	sch, err := c.Compile("devloop-envelope.json")
	if err != nil {
		panic(fmt.Sprintf("ipc: could not compile embedded envelope schema: %v", err))
	}
	compiledEnvelopeSchema = sch
}

// ParseMessage decodes one line of wire data into a Message, validating
// it against the envelope schema. A schema violation is reported the
// same way a JSON parse failure is: as an error the caller logs and
// moves on from, without tearing down the connection.
func ParseMessage(line []byte) (Message, error) {
	var generic interface{}
	if err := json.Unmarshal(line, &generic); err != nil {
		return Message{}, fmt.Errorf("invalid JSON: %w", err)
	}
	if err := compiledEnvelopeSchema.Validate(generic); err != nil {
		return Message{}, fmt.Errorf("envelope schema violation: %w", err)
	}

	var m Message
	if err := json.Unmarshal(line, &m); err != nil {
		return Message{}, fmt.Errorf("invalid message: %w", err)
	}
	return m, nil
}

// NewAck builds the ack message sent back for every non-ack inbound
// message.
func NewAck(sessionID, requestID string) Message {
	return Message{
		Type:      TypeAck,
		SessionID: sessionID,
		RequestID: requestID,
		Timestamp: time.Now().UnixMilli(),
	}
}

// IsResultType reports whether t is one of the message types cached in
// the pending-results map and awaited by waitForResult.
func IsResultType(t MessageType) bool {
	return t == TypeComplete || t == TypeCodeChanges || t == TypeError
}

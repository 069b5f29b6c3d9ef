// Package channel maintains the single reliable, ordered control channel
// between the two identities of one site, and defines the typed message
// envelope carried over it.
package channel

import (
	"encoding/json"
	"fmt"
	"time"
)

// MessageType tags a control message. Receivers ignore unknown tags so new
// types can be added without breaking old endpoints.
type MessageType string

const (
	TypeChat          MessageType = "CHAT"
	TypeAlert         MessageType = "ALERT"
	TypeRequestStream MessageType = "REQUEST_STREAM"
)

// Message is the envelope for every control-channel frame.
type Message struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ChatPayload is the payload of a TypeChat message. Receivers deduplicate on
// ID before appending to their local log.
type ChatPayload struct {
	ID     string    `json:"id"`
	From   string    `json:"from"`
	Body   string    `json:"body"`
	SentAt time.Time `json:"sentAt"`
}

// Encode serializes a message for data channel transmission.
func Encode(msg Message) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode control message: %w", err)
	}
	return data, nil
}

// Decode parses a control-channel frame. The payload stays raw; consumers
// decode it per type.
func Decode(data []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return Message{}, fmt.Errorf("decode control message: %w", err)
	}
	if msg.Type == "" {
		return Message{}, fmt.Errorf("control message missing type")
	}
	return msg, nil
}

// DecodeChat parses the payload of a TypeChat message.
func DecodeChat(msg Message) (ChatPayload, error) {
	if msg.Type != TypeChat {
		return ChatPayload{}, fmt.Errorf("not a chat message: %s", msg.Type)
	}
	var p ChatPayload
	if err := json.Unmarshal(msg.Payload, &p); err != nil {
		return ChatPayload{}, fmt.Errorf("decode chat payload: %w", err)
	}
	if p.ID == "" {
		return ChatPayload{}, fmt.Errorf("chat payload missing id")
	}
	return p, nil
}

// NewChat builds a TypeChat message.
func NewChat(p ChatPayload) (Message, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return Message{}, fmt.Errorf("encode chat payload: %w", err)
	}
	return Message{Type: TypeChat, Payload: raw}, nil
}

package bus

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Kind identifies a sync message.
type Kind string

const (
	KindTime           Kind = "TIME"
	KindLeaderResigned Kind = "LEADER_RESIGNED"
)

var (
	ErrUnknownKind      = errors.New("unknown message kind")
	ErrMissingTimestamp = errors.New("TIME message without timestamp")
)

// Message is the only thing tabs exchange. TimestampMs is set for TIME
// messages only; Sender is the publishing tab's id.
type Message struct {
	Kind        Kind   `json:"kind"`
	TimestampMs int64  `json:"timestampMs,omitempty"`
	Sender      string `json:"sender,omitempty"`
}

// Time builds a TIME message.
func Time(sender string, timestampMs int64) Message {
	return Message{Kind: KindTime, TimestampMs: timestampMs, Sender: sender}
}

// LeaderResigned builds a LEADER_RESIGNED message.
func LeaderResigned(sender string) Message {
	return Message{Kind: KindLeaderResigned, Sender: sender}
}

// Validate checks the message against the wire schema.
func (m Message) Validate() error {
	switch m.Kind {
	case KindTime:
		if m.TimestampMs <= 0 {
			return ErrMissingTimestamp
		}
		return nil
	case KindLeaderResigned:
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownKind, m.Kind)
	}
}

// Encode serializes a message for the wire.
func Encode(m Message) ([]byte, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal message: %w", err)
	}
	return data, nil
}

// Decode parses and validates a wire message.
func Decode(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("unmarshal message: %w", err)
	}
	if err := m.Validate(); err != nil {
		return Message{}, err
	}
	return m, nil
}

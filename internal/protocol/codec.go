package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Batch is the long-polling body: every message queued since the last poll.
type Batch struct {
	Messages []*Message `msgpack:"messages"`
}

// MaxBatchSize bounds how many messages a single poll response carries.
const MaxBatchSize = 64

// EncodeBatch encodes messages for a long-polling request or response body.
func EncodeBatch(msgs []*Message) ([]byte, error) {
	data, err := msgpack.Marshal(Batch{Messages: msgs})
	if err != nil {
		return nil, fmt.Errorf("encode batch: %w", err)
	}
	return data, nil
}

// DecodeBatch decodes a long-polling body.
func DecodeBatch(data []byte) ([]*Message, error) {
	var b Batch
	if err := msgpack.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("decode batch: %w", err)
	}
	if len(b.Messages) > MaxBatchSize {
		return nil, fmt.Errorf("decode batch: %d messages exceeds limit %d", len(b.Messages), MaxBatchSize)
	}
	return b.Messages, nil
}

// Encode encodes a single message as a websocket text frame.
func Encode(msg *Message) ([]byte, error) {
	return json.Marshal(msg)
}

// Decode decodes a single websocket text frame.
func Decode(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("decode message: %w", err)
	}
	if msg.Type == "" {
		return nil, fmt.Errorf("decode message: missing type")
	}
	return &msg, nil
}

// ContentTypeBatch is the media type of long-polling bodies.
const ContentTypeBatch = "application/msgpack"

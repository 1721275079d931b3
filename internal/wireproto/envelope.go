package wireproto

import (
	"encoding/base64"
	"encoding/json"
)

// Channel names used both on the wire between gateway and kernel, and in the
// client-facing WebSocket envelope.
const (
	ChannelShell   = "shell"
	ChannelControl = "control"
	ChannelIOPub   = "iopub"
	ChannelStdin   = "stdin"
)

// Envelope is the JSON shape exchanged with WebSocket clients, per spec
// §4.3: a channel-tagged view of a Message.
type Envelope struct {
	Channel      string                 `json:"channel"`
	Header       Header                 `json:"header"`
	ParentHeader Header                 `json:"parent_header"`
	Metadata     map[string]interface{} `json:"metadata"`
	Content      map[string]interface{} `json:"content"`
	Buffers      []string               `json:"buffers,omitempty"`
}

// ToEnvelope converts a decoded Message plus its source/destination channel
// into the client-facing JSON shape. Buffers are base64-encoded for the text
// WS representation; binary framing (spec §4.3) is handled by the bridge,
// which chooses text vs binary from the returned envelope's Buffers.
func ToEnvelope(channel string, m *Message) Envelope {
	buffers := make([]string, len(m.Buffers))
	for i, b := range m.Buffers {
		buffers[i] = base64.StdEncoding.EncodeToString(b)
	}
	return Envelope{
		Channel:      channel,
		Header:       m.Header,
		ParentHeader: m.ParentHeader,
		Metadata:     m.Metadata,
		Content:      m.Content,
		Buffers:      buffers,
	}
}

// FromEnvelope converts a client-supplied JSON envelope into a Message ready
// for signing and transmission to the kernel.
func FromEnvelope(e Envelope) (*Message, error) {
	buffers := make([][]byte, len(e.Buffers))
	for i, s := range e.Buffers {
		b, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return nil, err
		}
		buffers[i] = b
	}
	return &Message{
		Header:       e.Header,
		ParentHeader: e.ParentHeader,
		Metadata:     e.Metadata,
		Content:      e.Content,
		Buffers:      buffers,
	}, nil
}

// ParseEnvelope decodes a raw WS text frame into an Envelope.
func ParseEnvelope(data []byte) (Envelope, error) {
	var e Envelope
	err := json.Unmarshal(data, &e)
	return e, err
}

// Marshal serializes an Envelope back to JSON for sending to a WS client.
func (e Envelope) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// Package wireproto implements the Jupyter multi-socket wire message format:
// framing, HMAC signing/verification, and the JSON envelope shape used both
// over ZeroMQ (to kernels) and over WebSocket (to clients).
package wireproto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/pkg/errors"
)

// Delimiter separates routing identities from the signed part of a message,
// per the Jupyter wire protocol.
const Delimiter = "<IDS|MSG>"

// Header is the Jupyter message header.
type Header struct {
	MsgID    string `json:"msg_id"`
	Username string `json:"username"`
	Session  string `json:"session"`
	Date     string `json:"date"`
	MsgType  string `json:"msg_type"`
	Version  string `json:"version"`
}

// Message is a decoded Jupyter protocol message, channel-agnostic.
type Message struct {
	Header       Header                 `json:"header"`
	ParentHeader Header                 `json:"parent_header"`
	Metadata     map[string]interface{} `json:"metadata"`
	Content      map[string]interface{} `json:"content"`
	Buffers      [][]byte               `json:"-"`
}

// Signer signs and verifies message frames with HMAC-SHA256, per the
// kernel's connection-file key. A zero-length key disables signing
// (signature_scheme "none"), matching the Jupyter convention.
type Signer struct {
	key []byte
}

// NewSigner builds a Signer around a connection-file key.
func NewSigner(key []byte) *Signer {
	return &Signer{key: key}
}

func (s *Signer) sign(header, parentHeader, metadata, content []byte) string {
	if len(s.key) == 0 {
		return ""
	}
	mac := hmac.New(sha256.New, s.key)
	mac.Write(header)
	mac.Write(parentHeader)
	mac.Write(metadata)
	mac.Write(content)
	return hex.EncodeToString(mac.Sum(nil))
}

// Encode serializes msg into the ordered list of frames
// [header, parent_header, metadata, content] plus a signature, ready to be
// prefixed with routing identities and the delimiter by the transport layer.
func (s *Signer) Encode(msg *Message) (signature string, frames [][]byte, err error) {
	header, err := json.Marshal(msg.Header)
	if err != nil {
		return "", nil, errors.Wrap(err, "marshal header")
	}
	parentHeader, err := json.Marshal(msg.ParentHeader)
	if err != nil {
		return "", nil, errors.Wrap(err, "marshal parent_header")
	}
	metadata := msg.Metadata
	if metadata == nil {
		metadata = map[string]interface{}{}
	}
	metadataBytes, err := json.Marshal(metadata)
	if err != nil {
		return "", nil, errors.Wrap(err, "marshal metadata")
	}
	content := msg.Content
	if content == nil {
		content = map[string]interface{}{}
	}
	contentBytes, err := json.Marshal(content)
	if err != nil {
		return "", nil, errors.Wrap(err, "marshal content")
	}
	sig := s.sign(header, parentHeader, metadataBytes, contentBytes)
	return sig, [][]byte{header, parentHeader, metadataBytes, contentBytes}, nil
}

// Verify checks a signature against the four body frames. Returns false
// (never an error) on mismatch: callers must drop the frame silently per
// spec, not propagate an error to the client.
func (s *Signer) Verify(signature string, header, parentHeader, metadata, content []byte) bool {
	if len(s.key) == 0 {
		return true
	}
	expected := s.sign(header, parentHeader, metadata, content)
	return hmac.Equal([]byte(signature), []byte(expected))
}

// SplitFrames locates the <IDS|MSG> delimiter in a raw multipart frame list
// and splits identities from the signature + 4 body frames. It returns an
// error only on structural malformation (missing delimiter or wrong frame
// count), not on signature mismatch -- that's Verify's job.
func SplitFrames(frames [][]byte) (identities [][]byte, signature string, header, parentHeader, metadata, content []byte, err error) {
	idx := -1
	for i, f := range frames {
		if string(f) == Delimiter {
			idx = i
			break
		}
	}
	if idx == -1 {
		return nil, "", nil, nil, nil, nil, errors.New("wireproto: delimiter not found")
	}
	if len(frames) < idx+6 {
		return nil, "", nil, nil, nil, nil, errors.New("wireproto: truncated message")
	}
	identities = frames[:idx]
	signature = string(frames[idx+1])
	header = frames[idx+2]
	parentHeader = frames[idx+3]
	metadata = frames[idx+4]
	content = frames[idx+5]
	return identities, signature, header, parentHeader, metadata, content, nil
}

// Decode parses the four signed body frames into a Message, attaching any
// additional frames beyond the sixth as Buffers.
func Decode(header, parentHeader, metadata, content []byte, rest [][]byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(header, &m.Header); err != nil {
		return nil, errors.Wrap(err, "unmarshal header")
	}
	if len(parentHeader) > 2 { // more than "{}"
		if err := json.Unmarshal(parentHeader, &m.ParentHeader); err != nil {
			return nil, errors.Wrap(err, "unmarshal parent_header")
		}
	}
	if err := json.Unmarshal(metadata, &m.Metadata); err != nil {
		return nil, errors.Wrap(err, "unmarshal metadata")
	}
	if err := json.Unmarshal(content, &m.Content); err != nil {
		return nil, errors.Wrap(err, "unmarshal content")
	}
	m.Buffers = rest
	return &m, nil
}

// AssembleFrames builds the full wire frame list: identities, delimiter,
// signature, and the four signed body frames, followed by any buffers.
func AssembleFrames(identities [][]byte, signature string, body [][]byte, buffers [][]byte) [][]byte {
	out := make([][]byte, 0, len(identities)+2+len(body)+len(buffers))
	out = append(out, identities...)
	out = append(out, []byte(Delimiter), []byte(signature))
	out = append(out, body...)
	out = append(out, buffers...)
	return out
}

// Package wsbridge implements the WebSocket channel bridge: splicing one
// client WebSocket connection to one kernel's four logical channels, with
// signing, per-channel ordering, and binary-buffer framing.
package wsbridge

import (
	"context"
	"encoding/base64"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"k8s.io/klog/v2"

	"github.com/kernelgateway/kgatewayd/internal/kernelclient"
	"github.com/kernelgateway/kgatewayd/internal/wireproto"
)

// State is the bridge's connection lifecycle.
type State int

const (
	Connecting State = iota
	Attached
	Draining
	Closed
)

// Conn is the subset of *websocket.Conn the bridge needs, satisfied by
// gorilla/websocket and fakeable in tests.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Bridge splices one WebSocket connection to one kernel's shell, control,
// iopub and stdin channels.
type Bridge struct {
	conn   Conn
	kernel *kernelclient.Kernel

	mu    sync.Mutex
	state State

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds a Bridge. The kernel must be Idle or Busy; callers are
// expected to have already checked that and responded 404 otherwise.
func New(conn Conn, kernel *kernelclient.Kernel) *Bridge {
	return &Bridge{conn: conn, kernel: kernel, state: Connecting}
}

// Run attaches the bridge and blocks until the WebSocket closes or the
// kernel dies, then drains and tears everything down. pingInterval of 0
// disables the keepalive ping.
func (b *Bridge) Run(ctx context.Context, pingInterval time.Duration) {
	ctx, cancel := context.WithCancel(ctx)
	b.cancel = cancel
	defer cancel()

	b.kernel.IncConnections()
	defer b.kernel.DecConnections()

	b.setState(Attached)

	for _, channel := range []string{wireproto.ChannelShell, wireproto.ChannelControl, wireproto.ChannelIOPub, wireproto.ChannelStdin} {
		b.wg.Add(1)
		go b.outboundLoop(ctx, channel)
	}

	if pingInterval > 0 {
		b.wg.Add(1)
		go b.pingLoop(ctx, pingInterval)
	}

	go func() {
		select {
		case <-b.kernel.Done():
		case <-ctx.Done():
		}
		cancel()
		// Unblocks the inbound read so a dead kernel tears the bridge down
		// within one read, not one client message.
		_ = b.conn.Close()
	}()

	b.inboundLoop(ctx)

	b.setState(Draining)
	cancel()
	b.wg.Wait()
	b.setState(Closed)
	_ = b.conn.Close()
}

func (b *Bridge) setState(s State) {
	b.mu.Lock()
	b.state = s
	b.mu.Unlock()
}

// State returns the bridge's current lifecycle state.
func (b *Bridge) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// inboundLoop reads client envelopes and forwards them to the kernel,
// preserving per-channel send order: a single reading goroutine means sends
// are naturally serialized in arrival order.
func (b *Bridge) inboundLoop(ctx context.Context) {
	for {
		_, data, err := b.conn.ReadMessage()
		if err != nil {
			return
		}
		env, err := wireproto.ParseEnvelope(data)
		if err != nil {
			klog.Warningf("wsbridge: dropping malformed client envelope: %v", err)
			continue
		}
		if !validInboundChannel(env.Channel) {
			klog.Warningf("wsbridge: rejecting inbound message on channel %q", env.Channel)
			continue
		}
		if env.Header.Session == "" {
			env.Header.Session = b.kernel.ID
		}
		msg, err := wireproto.FromEnvelope(env)
		if err != nil {
			klog.Warningf("wsbridge: dropping envelope with bad buffers: %v", err)
			continue
		}
		if err := b.kernel.Send(env.Channel, msg); err != nil {
			klog.Warningf("wsbridge: send on %s failed: %v", env.Channel, err)
			return
		}
		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

// validInboundChannel rejects iopub, which is kernel->client only.
func validInboundChannel(channel string) bool {
	switch channel {
	case wireproto.ChannelShell, wireproto.ChannelControl, wireproto.ChannelStdin:
		return true
	default:
		return false
	}
}

// outboundLoop forwards one kernel channel's messages to the WebSocket
// client, preserving per-channel arrival order: the kernel's single socket
// reader fans out in order, and this loop writes sequentially. Frames with
// bad signatures never reach the subscription.
func (b *Bridge) outboundLoop(ctx context.Context, channel string) {
	defer b.wg.Done()
	items, cancel := b.kernel.Subscribe(channel)
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case item, open := <-items:
			if !open || item.Err != nil {
				return
			}
			env := wireproto.ToEnvelope(channel, item.Msg)
			if err := b.writeEnvelope(env); err != nil {
				return
			}
		}
	}
}

// writeEnvelope sends env as a binary frame when it carries buffers,
// otherwise as JSON text.
func (b *Bridge) writeEnvelope(env wireproto.Envelope) error {
	if len(env.Buffers) > 0 {
		return b.writeBinary(env)
	}
	data, err := env.Marshal()
	if err != nil {
		return err
	}
	return b.conn.WriteMessage(websocket.TextMessage, data)
}

// writeBinary encodes the envelope as a small header (JSON metadata length
// prefix) followed by the envelope JSON and the raw buffer bytes
// concatenated back to back. The frame records no per-buffer offsets, so
// the client can split off the envelope JSON but not tell several buffers
// apart; a buffer that is not valid base64 is left out. Buffers already travel base64-encoded within the JSON
// envelope via ToEnvelope, so the only thing a binary frame adds here is
// avoiding the base64 blow-up for large buffers: decode them back to raw
// bytes and append after a 4-byte big-endian length-prefixed JSON header.
func (b *Bridge) writeBinary(env wireproto.Envelope) error {
	header := env
	header.Buffers = nil
	headerJSON, err := header.Marshal()
	if err != nil {
		return err
	}
	out := make([]byte, 0, len(headerJSON)+4)
	out = append(out, lengthPrefix(len(headerJSON))...)
	out = append(out, headerJSON...)
	for _, b64 := range env.Buffers {
		raw, err := base64.StdEncoding.DecodeString(b64)
		if err != nil {
			continue
		}
		out = append(out, raw...)
	}
	return b.conn.WriteMessage(websocket.BinaryMessage, out)
}

func lengthPrefix(n int) []byte {
	return []byte{byte(n >> 24), byte(n >> 16), byte(n >> 8), byte(n)}
}

// pingLoop sends periodic WS pings; a zero interval is handled by the
// caller never starting this loop.
func (b *Bridge) pingLoop(ctx context.Context, interval time.Duration) {
	defer b.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := b.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

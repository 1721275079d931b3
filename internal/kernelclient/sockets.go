package kernelclient

import (
	"context"
	"time"

	"github.com/go-zeromq/zmq4"
	"github.com/pkg/errors"

	"github.com/kernelgateway/kgatewayd/internal/wireproto"
)

// sockets bundles the five client-side connections to a single kernel,
// each the mirror image of the kernel's bound socket type.
type sockets struct {
	shell   zmq4.Socket
	control zmq4.Socket
	stdin   zmq4.Socket
	iopub   zmq4.Socket
	hb      zmq4.Socket
}

func dialSockets(ctx context.Context, conn *ConnectionFile) (*sockets, error) {
	s := &sockets{
		shell:   zmq4.NewDealer(ctx),
		control: zmq4.NewDealer(ctx),
		stdin:   zmq4.NewDealer(ctx),
		iopub:   zmq4.NewSub(ctx),
		hb:      zmq4.NewReq(ctx),
	}
	dials := []struct {
		name string
		sock zmq4.Socket
		port int
	}{
		{"shell", s.shell, conn.ShellPort},
		{"control", s.control, conn.ControlPort},
		{"stdin", s.stdin, conn.StdinPort},
		{"iopub", s.iopub, conn.IOPubPort},
		{"hb", s.hb, conn.HBPort},
	}
	for _, d := range dials {
		if err := d.sock.Dial(conn.addr(d.port)); err != nil {
			s.Close()
			return nil, errors.Wrapf(err, "dialing %s channel", d.name)
		}
	}
	if err := s.iopub.SetOption(zmq4.OptionSubscribe, ""); err != nil {
		s.Close()
		return nil, errors.Wrap(err, "subscribing iopub")
	}
	return s, nil
}

func (s *sockets) Close() {
	for _, sock := range []zmq4.Socket{s.shell, s.control, s.stdin, s.iopub, s.hb} {
		if sock != nil {
			_ = sock.Close()
		}
	}
}

func (s *sockets) socketFor(channel string) (zmq4.Socket, error) {
	switch channel {
	case wireproto.ChannelShell:
		return s.shell, nil
	case wireproto.ChannelControl:
		return s.control, nil
	case wireproto.ChannelStdin:
		return s.stdin, nil
	case wireproto.ChannelIOPub:
		return s.iopub, nil
	default:
		return nil, errors.Errorf("kernelclient: unknown channel %q", channel)
	}
}

// send signs and writes a message on the given channel. Dealer sockets need
// no explicit identities from the client side (they're added by the router
// on the kernel's end of the pair), so identities is always empty here.
func send(sock zmq4.Socket, signer *wireproto.Signer, msg *wireproto.Message) error {
	sig, body, err := signer.Encode(msg)
	if err != nil {
		return err
	}
	buffers := msg.Buffers
	frames := wireproto.AssembleFrames(nil, sig, body, buffers)
	return sock.Send(zmq4.NewMsgFrom(frames...))
}

// recv reads one message from sock, verifying its signature. If the
// signature fails to verify, ok is false and err is nil: the caller must
// drop the frame and keep reading. A bad signature is never surfaced to a
// client.
func recv(sock zmq4.Socket, signer *wireproto.Signer) (msg *wireproto.Message, ok bool, err error) {
	zmsg, err := sock.Recv()
	if err != nil {
		return nil, false, err
	}
	_, signature, header, parentHeader, metadata, content, err := wireproto.SplitFrames(zmsg.Frames)
	if err != nil {
		return nil, false, err
	}
	if !signer.Verify(signature, header, parentHeader, metadata, content) {
		return nil, false, nil
	}
	var rest [][]byte
	// Any frames beyond the 6 core ones (identities are empty on a Dealer
	// read) are binary buffers.
	if len(zmsg.Frames) > 6 {
		rest = zmsg.Frames[6:]
	}
	m, err := wireproto.Decode(header, parentHeader, metadata, content, rest)
	if err != nil {
		return nil, false, err
	}
	return m, true, nil
}

// heartbeatOnce sends a single REQ ping and waits for its REP, bounded by
// timeout.
func heartbeatOnce(ctx context.Context, sock zmq4.Socket, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	done := make(chan error, 1)
	go func() {
		if err := sock.Send(zmq4.NewMsgString("ping")); err != nil {
			done <- err
			return
		}
		_, err := sock.Recv()
		done <- err
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

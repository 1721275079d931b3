package kernelclient

import (
	"strconv"
	"testing"

	"github.com/kernelgateway/kgatewayd/internal/wireproto"
)

func hubKernel() *Kernel {
	return &Kernel{ID: "test", subs: make(map[string][]chan RecvItem)}
}

func item(msgID string) RecvItem {
	return RecvItem{Msg: &wireproto.Message{Header: wireproto.Header{MsgID: msgID}}}
}

func TestFanoutPreservesArrivalOrder(t *testing.T) {
	k := hubKernel()
	ch, cancel := k.Subscribe(wireproto.ChannelIOPub)
	defer cancel()

	for i := 0; i < 5; i++ {
		k.fanout(wireproto.ChannelIOPub, item(strconv.Itoa(i)))
	}
	for i := 0; i < 5; i++ {
		got := <-ch
		if got.Msg.Header.MsgID != strconv.Itoa(i) {
			t.Fatalf("message %d arrived out of order: %s", i, got.Msg.Header.MsgID)
		}
	}
}

func TestFanoutDeliversToAllSubscribers(t *testing.T) {
	k := hubKernel()
	a, cancelA := k.Subscribe(wireproto.ChannelShell)
	defer cancelA()
	b, cancelB := k.Subscribe(wireproto.ChannelShell)
	defer cancelB()

	k.fanout(wireproto.ChannelShell, item("m1"))
	if got := <-a; got.Msg.Header.MsgID != "m1" {
		t.Fatalf("subscriber a got %s", got.Msg.Header.MsgID)
	}
	if got := <-b; got.Msg.Header.MsgID != "m1" {
		t.Fatalf("subscriber b got %s", got.Msg.Header.MsgID)
	}
}

func TestSlowSubscriberIsDroppedNotBlocking(t *testing.T) {
	k := hubKernel()
	ch, cancel := k.Subscribe(wireproto.ChannelIOPub)
	defer cancel()

	// Overflow the buffer without ever reading; fanout must not block.
	for i := 0; i < subscriberBuffer+10; i++ {
		k.fanout(wireproto.ChannelIOPub, item(strconv.Itoa(i)))
	}

	received := 0
	for range ch {
		received++
	}
	if received != subscriberBuffer {
		t.Fatalf("expected exactly %d buffered messages before the drop, got %d", subscriberBuffer, received)
	}

	k.subMu.Lock()
	remaining := len(k.subs[wireproto.ChannelIOPub])
	k.subMu.Unlock()
	if remaining != 0 {
		t.Fatalf("dropped subscriber must be removed from the fanout list, %d remain", remaining)
	}
}

func TestCancelStopsDelivery(t *testing.T) {
	k := hubKernel()
	ch, cancel := k.Subscribe(wireproto.ChannelShell)
	cancel()
	cancel() // idempotent

	k.fanout(wireproto.ChannelShell, item("late"))
	select {
	case got := <-ch:
		t.Fatalf("cancelled subscriber received %+v", got)
	default:
	}
}

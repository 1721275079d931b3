package kernelclient

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/uuid"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/kernelgateway/kgatewayd/internal/kernelspec"
	"github.com/kernelgateway/kgatewayd/internal/wireproto"
)

// State is a kernel's lifecycle state.
type State int

const (
	Starting State = iota
	Idle
	Busy
	Restarting
	Dead
)

func (s State) String() string {
	switch s {
	case Starting:
		return "starting"
	case Idle:
		return "idle"
	case Busy:
		return "busy"
	case Restarting:
		return "restarting"
	case Dead:
		return "dead"
	default:
		return "unknown"
	}
}

// Options configures how a kernel is launched and supervised.
type Options struct {
	RuntimeDir         string
	Launcher           Launcher
	ConnectTimeout     time.Duration
	HeartbeatInterval  time.Duration
	HeartbeatTimeout   time.Duration
	HeartbeatMaxMisses int
	ShutdownGrace      time.Duration
	ProcessWhitelist   []string
	EnvWhitelist       []string
}

func (o *Options) setDefaults() {
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = 10 * time.Second
	}
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = 5 * time.Second
	}
	if o.HeartbeatTimeout <= 0 {
		o.HeartbeatTimeout = 2 * time.Second
	}
	if o.HeartbeatMaxMisses <= 0 {
		o.HeartbeatMaxMisses = 3
	}
	if o.ShutdownGrace <= 0 {
		o.ShutdownGrace = 5 * time.Second
	}
	if o.Launcher == nil {
		o.Launcher = OSLauncher{}
	}
}

// Kernel is the gateway's handle on one running kernel subprocess: its
// sockets, connection info, process handle, and liveness state.
type Kernel struct {
	ID       string
	SpecName string

	mu          sync.Mutex
	state       State
	connInfo    *ConnectionFile
	connFile    string
	process     Process
	sockets     *sockets
	signer      *wireproto.Signer
	lastActive  int64 // unix nanos, atomic
	connections int32 // atomic

	subMu sync.Mutex
	subs  map[string][]chan RecvItem

	opts   Options
	cancel context.CancelFunc
	done   chan struct{}

	deadHook func(id string)
}

// DeadHook registers a callback invoked exactly once when the kernel
// transitions to Dead, used by the manager to evict the entry from its map:
// a tracked id always refers to a live kernel.
func (k *Kernel) DeadHook(fn func(id string)) {
	k.mu.Lock()
	k.deadHook = fn
	k.mu.Unlock()
}

// Launch starts a new kernel subprocess for the given spec and env
// overrides, blocking until the kernel is observed Idle (connection file
// readable, heartbeat succeeds) or launch fails.
func Launch(ctx context.Context, id string, spec kernelspec.Spec, envOverrides map[string]string, opts Options) (*Kernel, error) {
	opts.setDefaults()
	if id == "" {
		u, err := uuid.NewV4()
		if err != nil {
			return nil, errors.Wrap(err, "generating kernel id")
		}
		id = u.String()
	}

	connInfo, err := NewConnectionFile("127.0.0.1")
	if err != nil {
		return nil, err
	}
	connInfo.KernelName = spec.Name

	runtimeDir := opts.RuntimeDir
	if runtimeDir == "" {
		runtimeDir = os.TempDir()
	}
	if err := os.MkdirAll(runtimeDir, 0o700); err != nil {
		return nil, errors.Wrap(err, "creating runtime dir")
	}
	connFilePath := filepath.Join(runtimeDir, "kernel-"+id+".json")
	if err := connInfo.Write(connFilePath); err != nil {
		return nil, err
	}

	env := BuildEnv(spec.Env, opts.ProcessWhitelist, envOverrides, opts.EnvWhitelist)
	proc, err := opts.Launcher.Launch(ctx, spec, connFilePath, env)
	if err != nil {
		os.Remove(connFilePath)
		return nil, errors.Wrap(err, "launch")
	}

	kctx, cancel := context.WithCancel(ctx)
	k := &Kernel{
		ID:       id,
		SpecName: spec.Name,
		state:    Starting,
		connInfo: connInfo,
		connFile: connFilePath,
		process:  proc,
		signer:   wireproto.NewSigner([]byte(connInfo.Key)),
		subs:     make(map[string][]chan RecvItem),
		opts:     opts,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	k.touch()

	dialCtx, dialCancel := context.WithTimeout(kctx, opts.ConnectTimeout)
	defer dialCancel()
	socks, err := dialSockets(dialCtx, connInfo)
	if err != nil {
		cancel()
		os.Remove(connFilePath)
		return nil, errors.Wrap(err, "connecting to kernel sockets")
	}
	k.sockets = socks

	if err := waitForHeartbeat(dialCtx, socks, opts.HeartbeatTimeout); err != nil {
		k.Shutdown(context.Background())
		return nil, errors.Wrap(err, "kernel did not become alive")
	}

	k.mu.Lock()
	k.state = Idle
	k.mu.Unlock()

	k.startReaders()
	go k.heartbeatLoop(kctx)

	return k, nil
}

// waitForHeartbeat retries heartbeatOnce until it succeeds or ctx expires,
// confirming the kernel's REP socket is up before leaving Starting.
func waitForHeartbeat(ctx context.Context, socks *sockets, timeout time.Duration) error {
	var lastErr error
	for {
		if err := heartbeatOnce(ctx, socks.hb, timeout); err == nil {
			return nil
		} else {
			lastErr = err
		}
		select {
		case <-ctx.Done():
			if lastErr == nil {
				lastErr = ctx.Err()
			}
			return lastErr
		case <-time.After(200 * time.Millisecond):
		}
	}
}

func (k *Kernel) touch() {
	atomic.StoreInt64(&k.lastActive, time.Now().UnixNano())
}

// LastActivity returns the last time a message was sent or received on
// behalf of this kernel.
func (k *Kernel) LastActivity() time.Time {
	return time.Unix(0, atomic.LoadInt64(&k.lastActive))
}

// Connections returns the number of attached WS bridges.
func (k *Kernel) Connections() int {
	return int(atomic.LoadInt32(&k.connections))
}

// IncConnections / DecConnections track attached bridge count. The count
// never goes below zero; each bridge decrements exactly once on disconnect.
func (k *Kernel) IncConnections() { atomic.AddInt32(&k.connections, 1) }
func (k *Kernel) DecConnections() {
	for {
		cur := atomic.LoadInt32(&k.connections)
		if cur == 0 {
			return
		}
		if atomic.CompareAndSwapInt32(&k.connections, cur, cur-1) {
			return
		}
	}
}

// State returns the kernel's current lifecycle state.
func (k *Kernel) State() State {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.state
}

// setBusy / setIdle bracket an execute_request; the kernel reads Busy for
// its whole duration.
func (k *Kernel) setBusy() { k.setStateIfAlive(Busy) }
func (k *Kernel) setIdle() { k.setStateIfAlive(Idle) }

func (k *Kernel) setStateIfAlive(s State) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.state != Dead {
		k.state = s
	}
}

// ConnFilePath returns the path of the connection file on disk.
func (k *Kernel) ConnFilePath() string { return k.connFile }

// Send signs and writes msg on the given channel. Rejected while the
// kernel is still Starting.
func (k *Kernel) Send(channel string, msg *wireproto.Message) error {
	k.mu.Lock()
	state := k.state
	socks := k.sockets
	signer := k.signer
	k.mu.Unlock()
	if state == Starting {
		return errors.New("kernel is still starting")
	}
	if state == Dead {
		return errors.New("kernel is dead")
	}
	sock, err := socks.socketFor(channel)
	if err != nil {
		return err
	}
	k.touch()
	return send(sock, signer, msg)
}

// RecvItem carries one decoded message, or the terminal error, from a
// channel's reader to a subscriber.
type RecvItem struct {
	Msg *wireproto.Message
	Err error
}

// subscriberBuffer bounds how far a consumer may fall behind the kernel
// before it is dropped.
const subscriberBuffer = 256

// Subscribe registers a consumer for one channel's messages. Each kernel
// runs exactly one reader goroutine per socket; every subscriber sees that
// reader's messages in arrival order. A subscriber that falls more than
// subscriberBuffer messages behind is dropped and its channel closed. The
// returned cancel is idempotent and must be called when done.
func (k *Kernel) Subscribe(channel string) (<-chan RecvItem, func()) {
	ch := make(chan RecvItem, subscriberBuffer)
	k.subMu.Lock()
	k.subs[channel] = append(k.subs[channel], ch)
	k.subMu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			k.subMu.Lock()
			defer k.subMu.Unlock()
			list := k.subs[channel]
			for i, c := range list {
				if c == ch {
					k.subs[channel] = append(list[:i], list[i+1:]...)
					return
				}
			}
		})
	}
	return ch, cancel
}

// startReaders launches the per-socket reader goroutines, one per channel.
// Called once the kernel has left Starting.
func (k *Kernel) startReaders() {
	for _, channel := range []string{wireproto.ChannelShell, wireproto.ChannelControl, wireproto.ChannelStdin, wireproto.ChannelIOPub} {
		go k.readChannel(channel)
	}
}

// readChannel reads one socket until it fails (kernel dead, sockets
// closed), fanning every verified message out to the channel's subscribers.
// Frames that fail signature verification are logged and dropped here, so
// subscribers only ever see verified traffic.
func (k *Kernel) readChannel(channel string) {
	k.mu.Lock()
	socks := k.sockets
	signer := k.signer
	k.mu.Unlock()
	sock, err := socks.socketFor(channel)
	if err != nil {
		return
	}
	for {
		msg, ok, err := recv(sock, signer)
		if err == nil && !ok {
			klog.Warningf("kernel %s: dropping frame with bad signature on %s", k.ID, channel)
			continue
		}
		if err == nil {
			k.touch()
		}
		k.fanout(channel, RecvItem{Msg: msg, Err: err})
		if err != nil {
			return
		}
	}
}

// fanout delivers item to every subscriber of channel, dropping any
// subscriber whose buffer is full so one stalled consumer cannot block the
// socket reader (and with it every other consumer).
func (k *Kernel) fanout(channel string, item RecvItem) {
	k.subMu.Lock()
	defer k.subMu.Unlock()
	subs := k.subs[channel]
	for i := 0; i < len(subs); {
		select {
		case subs[i] <- item:
			i++
		default:
			klog.Warningf("kernel %s: %s subscriber too slow, dropping it", k.ID, channel)
			close(subs[i])
			subs = append(subs[:i], subs[i+1:]...)
		}
	}
	k.subs[channel] = subs
}

func (k *Kernel) heartbeatLoop(ctx context.Context) {
	misses := 0
	ticker := time.NewTicker(k.opts.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			k.mu.Lock()
			sock := k.sockets.hb
			k.mu.Unlock()
			if err := heartbeatOnce(ctx, sock, k.opts.HeartbeatTimeout); err != nil {
				misses++
				klog.Warningf("kernel %s: heartbeat miss %d/%d: %v", k.ID, misses, k.opts.HeartbeatMaxMisses, err)
				if misses >= k.opts.HeartbeatMaxMisses {
					klog.Errorf("kernel %s: heartbeat lost, marking dead", k.ID)
					k.terminate(true)
					return
				}
			} else {
				misses = 0
			}
		}
	}
}

// Shutdown sends shutdown_request on the control channel, waits up to the
// configured grace period, then signals the process. Idempotent: calling it
// more than once is a no-op after the first call completes.
func (k *Kernel) Shutdown(ctx context.Context) error {
	k.mu.Lock()
	if k.state == Dead {
		k.mu.Unlock()
		return nil
	}
	socks := k.sockets
	signer := k.signer
	k.mu.Unlock()

	if socks != nil {
		msg := &wireproto.Message{
			Header:  wireproto.Header{MsgID: newMsgID(), MsgType: "shutdown_request", Version: "5.3"},
			Content: map[string]interface{}{"restart": false},
		}
		_ = send(socks.control, signer, msg)
	}

	grace := k.opts.ShutdownGrace
	waitErr := make(chan error, 1)
	if k.process != nil {
		go func() { waitErr <- k.process.Wait() }()
	} else {
		waitErr <- nil
	}
	select {
	case <-waitErr:
	case <-time.After(grace):
		if k.process != nil {
			_ = k.process.Signal(termSignal)
			select {
			case <-waitErr:
			case <-time.After(grace):
				_ = k.process.Kill()
				<-waitErr
			}
		}
	}

	k.terminate(false)
	return nil
}

func (k *Kernel) terminate(fromHeartbeatLoss bool) {
	k.mu.Lock()
	if k.state == Dead {
		k.mu.Unlock()
		return
	}
	k.state = Dead
	socks := k.sockets
	hook := k.deadHook
	k.mu.Unlock()

	if k.cancel != nil {
		k.cancel()
	}
	if socks != nil {
		socks.Close()
	}
	if !fromHeartbeatLoss && k.process != nil {
		_ = k.process.Signal(termSignal)
	}
	if k.connFile != "" {
		_ = os.Remove(k.connFile)
	}
	close(k.done)
	if hook != nil {
		hook(k.ID)
	}
}

// Done is closed once the kernel has been marked Dead, its context
// cancelled and its sockets closed. The per-socket reader goroutines and
// the heartbeat loop are not waited for; they return on their own once the
// sockets are closed and the context is cancelled.
func (k *Kernel) Done() <-chan struct{} { return k.done }

func newMsgID() string {
	u, err := uuid.NewV4()
	if err != nil {
		return "unknown"
	}
	return u.String()
}

// Package refkernel implements the bind side of the kernel wire protocol:
// a minimal "echo" kernel that listens on the five sockets a connection
// file describes, verifies and signs frames, and answers shell/control
// requests. It exists so the gateway can be exercised end to end without a
// real kernel installation; the `kgatewayd kernel` subcommand runs one, and
// the built-in echo kernelspec launches it as a subprocess.
//
// Execution semantics are deliberately trivial and work line by line (see
// eval): a line starting with "error:" ends the cell with an error reply,
// assignment lines (containing "=") store a value and print nothing, so
// seed notebooks stay quiet, and any other non-blank, non-"#" line is
// echoed back as a stream on stdout.
package refkernel

import (
	"context"
	"encoding/json"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-zeromq/zmq4"
	"github.com/gofrs/uuid"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/kernelgateway/kgatewayd/internal/kernelspec"
	"github.com/kernelgateway/kgatewayd/internal/wireproto"
)

// ConnectionInfo is the connection-file document the kernel reads at
// startup, with the same fields and JSON tags as the gateway's
// kernelclient.ConnectionFile except kernel_name, which it does not read.
type ConnectionInfo struct {
	SignatureScheme string `json:"signature_scheme"`
	Transport       string `json:"transport"`
	StdinPort       int    `json:"stdin_port"`
	ControlPort     int    `json:"control_port"`
	IOPubPort       int    `json:"iopub_port"`
	HBPort          int    `json:"hb_port"`
	ShellPort       int    `json:"shell_port"`
	Key             string `json:"key"`
	IP              string `json:"ip"`
}

// Kernel is one running reference kernel: five bound sockets and an
// execution counter.
type Kernel struct {
	config  ConnectionInfo
	signer  *wireproto.Signer
	hb      zmq4.Socket
	shell   zmq4.Socket
	control zmq4.Socket
	iopub   zmq4.Socket
	stdin   zmq4.Socket
	sockets []zmq4.Socket

	shutdown  chan struct{}
	closeOnce sync.Once

	mu             sync.Mutex
	executionCount int
	vars           map[string]string
}

// New reads the connection file at configPath and prepares a kernel. The
// sockets are not bound until Start.
func New(configPath string) (*Kernel, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, errors.Wrap(err, "reading connection file")
	}
	var config ConnectionInfo
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, errors.Wrap(err, "parsing connection file")
	}
	return &Kernel{
		config:   config,
		signer:   wireproto.NewSigner([]byte(config.Key)),
		shutdown: make(chan struct{}),
		vars:     make(map[string]string),
	}, nil
}

// Start binds all five sockets and serves requests until a
// shutdown_request arrives or Stop is called.
func (k *Kernel) Start() error {
	bind := func(sock zmq4.Socket, port int) (zmq4.Socket, error) {
		addr := addr(k.config, port)
		if err := sock.Listen(addr); err != nil {
			return nil, errors.Wrapf(err, "binding %s", addr)
		}
		return sock, nil
	}

	ctx := context.Background()
	var err error
	if k.hb, err = bind(zmq4.NewRep(ctx), k.config.HBPort); err != nil {
		return err
	}
	if k.shell, err = bind(zmq4.NewRouter(ctx), k.config.ShellPort); err != nil {
		return err
	}
	if k.control, err = bind(zmq4.NewRouter(ctx), k.config.ControlPort); err != nil {
		return err
	}
	if k.stdin, err = bind(zmq4.NewRouter(ctx), k.config.StdinPort); err != nil {
		return err
	}
	if k.iopub, err = bind(zmq4.NewPub(ctx), k.config.IOPubPort); err != nil {
		return err
	}
	k.sockets = []zmq4.Socket{k.hb, k.shell, k.control, k.stdin, k.iopub}

	klog.Infof("refkernel: listening hb=%d shell=%d iopub=%d control=%d stdin=%d",
		k.config.HBPort, k.config.ShellPort, k.config.IOPubPort, k.config.ControlPort, k.config.StdinPort)

	go k.serveHeartbeat()
	go k.serveChannel(k.shell)
	go k.serveChannel(k.control)

	<-k.shutdown
	return nil
}

// Stop closes every socket and unblocks Start. Safe to call more than
// once.
func (k *Kernel) Stop() {
	k.closeOnce.Do(func() {
		close(k.shutdown)
		for _, sock := range k.sockets {
			_ = sock.Close()
		}
	})
}

func (k *Kernel) serveHeartbeat() {
	for {
		msg, err := k.hb.Recv()
		if err != nil {
			return
		}
		if err := k.hb.Send(msg); err != nil {
			return
		}
	}
}

func (k *Kernel) serveChannel(sock zmq4.Socket) {
	for {
		identities, msg, err := k.recv(sock)
		if err != nil {
			select {
			case <-k.shutdown:
				return
			default:
			}
			klog.Warningf("refkernel: recv: %v", err)
			continue
		}
		if msg == nil {
			// Signature mismatch: dropped, never answered.
			continue
		}
		switch msg.Header.MsgType {
		case "kernel_info_request":
			k.replyKernelInfo(sock, msg, identities)
		case "execute_request":
			k.handleExecute(sock, msg, identities)
		case "interrupt_request":
			k.reply(sock, msg, identities, "interrupt_reply", map[string]interface{}{"status": "ok"})
		case "shutdown_request":
			restart, _ := msg.Content["restart"].(bool)
			k.reply(sock, msg, identities, "shutdown_reply", map[string]interface{}{"restart": restart})
			if !restart {
				k.Stop()
				return
			}
		default:
			klog.Warningf("refkernel: unhandled message type %q", msg.Header.MsgType)
		}
	}
}

// recv reads one signed multipart message. A nil message with nil error
// means the frame failed signature verification and was dropped.
func (k *Kernel) recv(sock zmq4.Socket) ([][]byte, *wireproto.Message, error) {
	zmsg, err := sock.Recv()
	if err != nil {
		return nil, nil, err
	}
	identities, signature, header, parentHeader, metadata, content, err := wireproto.SplitFrames(zmsg.Frames)
	if err != nil {
		return nil, nil, err
	}
	if !k.signer.Verify(signature, header, parentHeader, metadata, content) {
		klog.Warningf("refkernel: dropping frame with bad signature")
		return nil, nil, nil
	}
	msg, err := wireproto.Decode(header, parentHeader, metadata, content, nil)
	if err != nil {
		return nil, nil, err
	}
	return identities, msg, nil
}

func (k *Kernel) send(sock zmq4.Socket, msg *wireproto.Message, identities [][]byte) {
	sig, body, err := k.signer.Encode(msg)
	if err != nil {
		klog.Warningf("refkernel: encode: %v", err)
		return
	}
	frames := wireproto.AssembleFrames(identities, sig, body, nil)
	if err := sock.Send(zmq4.NewMsgFrom(frames...)); err != nil {
		klog.Warningf("refkernel: send %s: %v", msg.Header.MsgType, err)
	}
}

func (k *Kernel) header(msgType, session string) wireproto.Header {
	return wireproto.Header{
		MsgID:    newUUID(),
		Username: "kernel",
		Session:  session,
		Date:     time.Now().UTC().Format(time.RFC3339),
		MsgType:  msgType,
		Version:  "5.3",
	}
}

func (k *Kernel) reply(sock zmq4.Socket, req *wireproto.Message, identities [][]byte, msgType string, content map[string]interface{}) {
	k.send(sock, &wireproto.Message{
		Header:       k.header(msgType, req.Header.Session),
		ParentHeader: req.Header,
		Content:      content,
	}, identities)
}

func (k *Kernel) publish(req *wireproto.Message, msgType string, content map[string]interface{}) {
	k.send(k.iopub, &wireproto.Message{
		Header:       k.header(msgType, req.Header.Session),
		ParentHeader: req.Header,
		Content:      content,
	}, nil)
}

func (k *Kernel) publishStatus(req *wireproto.Message, state string) {
	k.publish(req, "status", map[string]interface{}{"execution_state": state})
}

func (k *Kernel) replyKernelInfo(sock zmq4.Socket, req *wireproto.Message, identities [][]byte) {
	k.publishStatus(req, "busy")
	defer k.publishStatus(req, "idle")
	k.reply(sock, req, identities, "kernel_info_reply", map[string]interface{}{
		"protocol_version":       "5.3",
		"implementation":         "kgatewayd-echo",
		"implementation_version": "1.0.0",
		"language_info": map[string]interface{}{
			"name":           "echo",
			"version":        "1.0.0",
			"mimetype":       "text/plain",
			"file_extension": ".txt",
		},
		"banner": "kernel gateway reference kernel",
	})
}

func (k *Kernel) handleExecute(sock zmq4.Socket, req *wireproto.Message, identities [][]byte) {
	code, _ := req.Content["code"].(string)
	k.mu.Lock()
	k.executionCount++
	count := k.executionCount
	k.mu.Unlock()

	k.publishStatus(req, "busy")
	k.publish(req, "execute_input", map[string]interface{}{"code": code, "execution_count": count})

	stdout, ename, evalue := k.eval(code)

	if ename != "" {
		k.publish(req, "error", map[string]interface{}{
			"ename":     ename,
			"evalue":    evalue,
			"traceback": []string{ename + ": " + evalue},
		})
		k.reply(sock, req, identities, "execute_reply", map[string]interface{}{
			"status":          "error",
			"execution_count": count,
			"ename":           ename,
			"evalue":          evalue,
			"traceback":       []string{ename + ": " + evalue},
		})
	} else {
		if stdout != "" {
			k.publish(req, "stream", map[string]interface{}{"name": "stdout", "text": stdout})
		}
		k.reply(sock, req, identities, "execute_reply", map[string]interface{}{
			"status":           "ok",
			"execution_count":  count,
			"payload":          []interface{}{},
			"user_expressions": map[string]interface{}{},
		})
	}

	k.publishStatus(req, "idle")
}

// eval implements the echo language, line by line:
//
//	error: <msg>     raise an error with evalue <msg>
//	<name> = <val>   store <val> (no output)
//	print <name>     print the stored value, or <name> verbatim if unset
//	<anything else>  echoed to stdout
func (k *Kernel) eval(code string) (stdout, ename, evalue string) {
	var out strings.Builder
	for _, line := range strings.Split(code, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case line == "" || strings.HasPrefix(line, "#"):
		case strings.HasPrefix(line, "error:"):
			return "", "Error", strings.TrimSpace(strings.TrimPrefix(line, "error:"))
		case strings.Contains(line, "="):
			parts := strings.SplitN(line, "=", 2)
			k.mu.Lock()
			k.vars[strings.TrimSpace(parts[0])] = strings.TrimSpace(parts[1])
			k.mu.Unlock()
		case strings.HasPrefix(line, "print "):
			name := strings.TrimSpace(strings.TrimPrefix(line, "print "))
			k.mu.Lock()
			val, ok := k.vars[name]
			k.mu.Unlock()
			if !ok {
				val = name
			}
			out.WriteString(val)
			out.WriteString("\n")
		default:
			out.WriteString(line)
			out.WriteString("\n")
		}
	}
	return out.String(), "", ""
}

func addr(c ConnectionInfo, port int) string {
	transport := c.Transport
	if transport == "" {
		transport = "tcp"
	}
	ip := c.IP
	if ip == "" {
		ip = "127.0.0.1"
	}
	return transport + "://" + ip + ":" + strconv.Itoa(port)
}

func newUUID() string {
	u, err := uuid.NewV4()
	if err != nil {
		return "unknown"
	}
	return u.String()
}

// EchoSpec returns a kernelspec that launches the current binary's `kernel`
// subcommand, used as the fallback registry entry when no kernelspecs are
// installed on the host.
func EchoSpec() (kernelspec.Spec, error) {
	self, err := os.Executable()
	if err != nil {
		return kernelspec.Spec{}, errors.Wrap(err, "locating own executable")
	}
	return kernelspec.Spec{
		Name:        "echo",
		DisplayName: "Echo (reference kernel)",
		Language:    "echo",
		Argv:        []string{self, "kernel", "{connection_file}"},
	}, nil
}

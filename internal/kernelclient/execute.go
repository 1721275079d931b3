package kernelclient

import (
	"context"

	"github.com/pkg/errors"

	"github.com/kernelgateway/kgatewayd/internal/wireproto"
)

// Output is one iopub message produced while draining the results of an
// execute_request, already classified by msg_type.
type Output struct {
	Type    string // stream, execute_result, display_data, error
	Content map[string]interface{}
}

// ExecuteResult is the outcome of a blocking ExecuteCode call: the shell
// reply content plus every iopub message observed between busy and idle.
type ExecuteResult struct {
	ReplyContent map[string]interface{}
	Outputs      []Output
	Status       string // "ok", "error", "abort"
}

// ExecuteCode runs code to completion on the shell channel, blocking until
// the matching idle status arrives on iopub. It brackets the kernel's state
// as Busy for the duration. Used by seeding (internal/manager) and by the
// notebook-HTTP dispatcher (internal/dispatcher).
func (k *Kernel) ExecuteCode(ctx context.Context, code string) (*ExecuteResult, error) {
	msgID := newMsgID()
	req := &wireproto.Message{
		Header: wireproto.Header{
			MsgID:   msgID,
			MsgType: "execute_request",
			Version: "5.3",
		},
		Content: map[string]interface{}{
			"code":             code,
			"silent":           false,
			"store_history":    true,
			"user_expressions": map[string]interface{}{},
			"allow_stdin":      false,
			"stop_on_error":    true,
		},
	}

	k.setBusy()
	defer k.setIdle()

	// Subscribe before sending so a fast reply cannot slip past.
	shellCh, cancelShell := k.Subscribe(wireproto.ChannelShell)
	defer cancelShell()
	iopubCh, cancelIOPub := k.Subscribe(wireproto.ChannelIOPub)
	defer cancelIOPub()

	if err := k.Send(wireproto.ChannelShell, req); err != nil {
		return nil, errors.Wrap(err, "sending execute_request")
	}

	result := &ExecuteResult{}
	var replySeen bool
	var idleSeen bool

	for !replySeen || !idleSeen {
		select {
		case <-ctx.Done():
			return result, ctx.Err()
		case r, open := <-shellCh:
			if !open {
				return result, errors.New("kernel dropped the shell subscription")
			}
			if r.Err != nil {
				return result, r.Err
			}
			if r.Msg.ParentHeader.MsgID != msgID {
				continue
			}
			result.ReplyContent = r.Msg.Content
			if status, ok := r.Msg.Content["status"].(string); ok {
				result.Status = status
			}
			replySeen = true
		case r, open := <-iopubCh:
			if !open {
				return result, errors.New("kernel dropped the iopub subscription")
			}
			if r.Err != nil {
				return result, r.Err
			}
			if r.Msg.ParentHeader.MsgID != msgID {
				continue
			}
			out := Output{Type: r.Msg.Header.MsgType, Content: r.Msg.Content}
			switch out.Type {
			case "status":
				if state, _ := r.Msg.Content["execution_state"].(string); state == "idle" {
					idleSeen = true
				}
			default:
				result.Outputs = append(result.Outputs, out)
			}
		}
	}
	return result, nil
}

// KernelInfo sends a kernel_info_request and returns its reply content.
func (k *Kernel) KernelInfo(ctx context.Context) (map[string]interface{}, error) {
	msgID := newMsgID()
	req := &wireproto.Message{
		Header:  wireproto.Header{MsgID: msgID, MsgType: "kernel_info_request", Version: "5.3"},
		Content: map[string]interface{}{},
	}
	shellCh, cancel := k.Subscribe(wireproto.ChannelShell)
	defer cancel()
	if err := k.Send(wireproto.ChannelShell, req); err != nil {
		return nil, err
	}
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case r, open := <-shellCh:
			if !open {
				return nil, errors.New("kernel dropped the shell subscription")
			}
			if r.Err != nil {
				return nil, r.Err
			}
			if r.Msg.ParentHeader.MsgID != msgID {
				continue
			}
			return r.Msg.Content, nil
		}
	}
}

// Interrupt sends an interrupt_request on the control channel, for kernels
// that take message-mode interrupts rather than POSIX signals.
func (k *Kernel) Interrupt(ctx context.Context) error {
	req := &wireproto.Message{
		Header:  wireproto.Header{MsgID: newMsgID(), MsgType: "interrupt_request", Version: "5.3"},
		Content: map[string]interface{}{},
	}
	return k.Send(wireproto.ChannelControl, req)
}

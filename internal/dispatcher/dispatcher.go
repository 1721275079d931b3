// Package dispatcher implements the notebook-HTTP request dispatcher: for
// each matched request it borrows a kernel from the pool, injects the
// decoded request object, executes the endpoint cell, collects its outputs,
// and applies any response-metadata cell before releasing the kernel.
package dispatcher

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/kernelgateway/kgatewayd/internal/endpointrouter"
	"github.com/kernelgateway/kgatewayd/internal/kernelclient"
	"github.com/kernelgateway/kgatewayd/internal/pool"
	"github.com/kernelgateway/kgatewayd/internal/reqdecode"
)

// Result is the fully resolved HTTP response for one dispatched request.
type Result struct {
	Status      int
	ContentType string
	Headers     map[string]string
	Body        []byte
}

// ErrTimeout is returned when an endpoint cell does not reach idle within
// the configured execution timeout; callers surface it as HTTP 504.
var ErrTimeout = errors.New("dispatcher: endpoint execution timed out")

// Dispatcher executes notebook-HTTP endpoint cells against a kernel pool.
// A zero Timeout lets cells run unbounded.
type Dispatcher struct {
	Pool           *pool.Pool
	KernelLanguage string
	Timeout        time.Duration
}

// New builds a Dispatcher bound to the given pool and kernel language (the
// language determines the REQUEST preamble's assignment syntax).
func New(p *pool.Pool, kernelLanguage string, timeout time.Duration) *Dispatcher {
	return &Dispatcher{Pool: p, KernelLanguage: kernelLanguage, Timeout: timeout}
}

// responseMetadata is the JSON shape a ResponseInfo cell prints.
type responseMetadata struct {
	Status  *int              `json:"status"`
	Headers map[string]string `json:"headers"`
}

// Dispatch runs one matched (route, verb, path params) request end to end.
// verbOK must already be true (callers distinguish 404/405 themselves using
// endpointrouter.Match before calling Dispatch).
func (d *Dispatcher) Dispatch(ctx context.Context, route *endpointrouter.Route, method string, pathParams map[string]string, r *http.Request) (*Result, error) {
	req, err := reqdecode.Build(r, pathParams)
	if err != nil {
		return nil, errors.Wrap(err, "decoding request")
	}

	k, err := d.Pool.Acquire(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "acquiring pool kernel")
	}
	defer d.Pool.Release(k)

	preamble, err := FormatRequest(req, d.KernelLanguage)
	if err != nil {
		return nil, errors.Wrap(err, "formatting REQUEST preamble")
	}

	execCtx := ctx
	if d.Timeout > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, d.Timeout)
		defer cancel()
	}

	source := route.Handlers[method]
	execResult, err := k.ExecuteCode(execCtx, preamble+"\n"+source)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, ErrTimeout
		}
		return nil, errors.Wrap(err, "executing endpoint cell")
	}

	result := classify(execResult)

	if respSource, ok := route.Responses[method]; ok {
		applyResponseMetadata(execCtx, k, respSource, result)
	}

	return result, nil
}

// classify turns the raw execute outputs into an HTTP result. The body is
// the execute_result's data when present, else collected stdout; the
// content type follows the execute_result's own mime type, defaulting to
// text/plain.
func classify(execResult *kernelclient.ExecuteResult) *Result {
	result := &Result{Status: http.StatusOK, ContentType: "text/plain", Headers: map[string]string{}}

	if execResult.Status == "error" {
		ename, _ := execResult.ReplyContent["ename"].(string)
		evalue, _ := execResult.ReplyContent["evalue"].(string)
		result.Status = http.StatusInternalServerError
		result.Body = []byte("Error " + ename + ": " + evalue)
		return result
	}

	var stdout strings.Builder
	var executeResultBody []byte
	var executeResultType string

	for _, out := range execResult.Outputs {
		switch out.Type {
		case "stream":
			if name, _ := out.Content["name"].(string); name == "stdout" {
				if text, ok := out.Content["text"].(string); ok {
					stdout.WriteString(text)
				}
			}
			// stderr is discarded.
		case "execute_result":
			if data, ok := out.Content["data"].(map[string]interface{}); ok {
				for mime, val := range data {
					executeResultType = mime
					if s, ok := val.(string); ok {
						executeResultBody = []byte(s)
					} else {
						b, err := json.Marshal(val)
						if err == nil {
							executeResultBody = b
						}
					}
					break
				}
			}
		case "error":
			ename, _ := out.Content["ename"].(string)
			evalue, _ := out.Content["evalue"].(string)
			result.Status = http.StatusInternalServerError
			result.Body = []byte("Error " + ename + ": " + evalue)
			return result
		}
	}

	if executeResultBody != nil {
		result.Body = executeResultBody
		if executeResultType != "" {
			result.ContentType = executeResultType
		}
	} else {
		result.Body = []byte(stdout.String())
	}
	return result
}

// applyResponseMetadata executes the ResponseInfo cell and overlays its
// printed JSON onto result's status/headers. Any failure here is swallowed
// rather than failing the whole request: the primary response has already
// succeeded.
func applyResponseMetadata(ctx context.Context, k *kernelclient.Kernel, source string, result *Result) {
	execResult, err := k.ExecuteCode(ctx, source)
	if err != nil || execResult.Status != "ok" {
		return
	}
	var stdout strings.Builder
	for _, out := range execResult.Outputs {
		if out.Type == "stream" {
			if name, _ := out.Content["name"].(string); name == "stdout" {
				if text, ok := out.Content["text"].(string); ok {
					stdout.WriteString(text)
				}
			}
		}
	}
	var meta responseMetadata
	if err := json.Unmarshal([]byte(stdout.String()), &meta); err != nil {
		return
	}
	if meta.Status != nil {
		result.Status = *meta.Status
	}
	for k, v := range meta.Headers {
		if strings.EqualFold(k, "Content-Type") {
			result.ContentType = v
			continue
		}
		result.Headers[k] = v
	}
}

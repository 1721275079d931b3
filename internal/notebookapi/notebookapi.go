// Package notebookapi implements the notebook-HTTP personality: wiring a
// compiled endpointrouter.Router and a dispatcher.Dispatcher into an
// http.Handler, plus the auxiliary endpoints for fetching the source
// notebook and its derived Swagger document.
package notebookapi

import (
	"net/http"
	"strings"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/kernelgateway/kgatewayd/internal/dispatcher"
	"github.com/kernelgateway/kgatewayd/internal/endpointrouter"
	"github.com/kernelgateway/kgatewayd/internal/httpapi"
	"github.com/kernelgateway/kgatewayd/internal/swagger"
)

// Handlers serves every discovered notebook-HTTP endpoint plus the fixed
// `/_api/spec/swagger.json` and `/_api/source` introspection endpoints.
type Handlers struct {
	Router      *endpointrouter.Router
	Dispatcher  *dispatcher.Dispatcher
	Title       string
	BasePath    string
	NotebookRaw []byte // the source .ipynb, served verbatim by /_api/source
}

// Register wires every matched route plus the fixed introspection
// endpoints onto mux.
func (h *Handlers) Register(mux *http.ServeMux) {
	mux.HandleFunc("/_api/spec/swagger.json", h.handleSwaggerJSON)
	mux.HandleFunc("/_api/source", h.handleSource)
	mux.HandleFunc("/", h.handleEndpoint)
}

func (h *Handlers) handleSwaggerJSON(w http.ResponseWriter, r *http.Request) {
	doc := swagger.FromRoutes(h.Title, h.BasePath, h.Router.Routes())
	body, err := swagger.Marshal(doc)
	if err != nil {
		httpapi.WriteError(w, httpapi.KindExecutionError, "Failed to render swagger document")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(body)
}

func (h *Handlers) handleSource(w http.ResponseWriter, r *http.Request) {
	if h.NotebookRaw == nil {
		httpapi.WriteError(w, httpapi.KindNotFound, "No source notebook available")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(h.NotebookRaw)
}

// handleEndpoint matches r against the compiled router and dispatches it,
// distinguishing 404 (no matching path) from 405 (path matches, verb does
// not).
func (h *Handlers) handleEndpoint(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path
	if h.BasePath != "" && h.BasePath != "/" {
		if !strings.HasPrefix(path, h.BasePath) {
			httpapi.WriteError(w, httpapi.KindNotFound, "Not found")
			return
		}
		path = strings.TrimPrefix(path, h.BasePath)
		if path == "" {
			path = "/"
		}
	}

	route, params, verbOK := h.Router.Match(r.Method, path)
	if route == nil {
		httpapi.WriteError(w, httpapi.KindNotFound, "No endpoint matches this path")
		return
	}
	if !verbOK {
		w.Header().Set("Allow", strings.Join(endpointrouter.Methods(route), ", "))
		httpapi.WriteError(w, httpapi.KindMethodNotAllowed, "Method not supported for this endpoint")
		return
	}

	result, err := h.Dispatcher.Dispatch(r.Context(), route, r.Method, params, r)
	if err != nil {
		if errors.Is(err, dispatcher.ErrTimeout) {
			httpapi.WriteError(w, httpapi.KindUpstreamTimeout, "Endpoint execution timed out")
			return
		}
		klog.Errorf("notebookapi: dispatch failed for %s %s: %v", r.Method, path, err)
		httpapi.WriteError(w, httpapi.KindExecutionError, "Endpoint execution failed")
		return
	}

	for k, v := range result.Headers {
		w.Header().Set(k, v)
	}
	if result.ContentType != "" {
		w.Header().Set("Content-Type", result.ContentType)
	}
	w.WriteHeader(result.Status)
	_, _ = w.Write(result.Body)
}

package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/kernelgateway/kgatewayd/internal/kernelclient"
	"github.com/kernelgateway/kgatewayd/internal/manager"
	"github.com/kernelgateway/kgatewayd/internal/session"
	"github.com/kernelgateway/kgatewayd/internal/wsbridge"
)

// Version is the raw surface's reported protocol/gateway version, echoed
// from GET /api.
const Version = "kernel_gateway.raw/1"

// Handlers implements the raw `kernel_gateway.jupyter_websocket` REST
// surface: kernel and session CRUD plus the WebSocket channels upgrade.
type Handlers struct {
	Manager           *manager.Manager
	Sessions          *session.Registry
	ListKernelsPublic bool
	WSPingInterval    time.Duration
	Upgrader          websocket.Upgrader
}

// Register wires every raw-surface route onto mux.
func (h *Handlers) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api", h.handleAPIRoot)
	mux.HandleFunc("/api/kernelspecs", h.handleKernelspecs)
	mux.HandleFunc("/api/kernels", h.handleKernels)
	mux.HandleFunc("/api/kernels/", h.handleKernelByID)
	mux.HandleFunc("/api/sessions", h.handleSessions)
	mux.HandleFunc("/api/sessions/", h.handleSessionByID)
	mux.HandleFunc("/api/swagger.json", h.handleSwaggerJSON)
	mux.HandleFunc("/api/swagger.yaml", h.handleSwaggerYAML)
}

func (h *Handlers) handleAPIRoot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteError(w, KindMethodNotAllowed, "GET only")
		return
	}
	WriteJSON(w, map[string]string{"version": Version})
}

func (h *Handlers) handleKernelspecs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteError(w, KindMethodNotAllowed, "GET only")
		return
	}
	WriteJSON(w, h.Manager.Registry().Listing())
}

func (h *Handlers) handleKernels(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		if !h.ListKernelsPublic {
			WriteError(w, KindListForbidden, "Listing kernels is disabled")
			return
		}
		WriteJSON(w, h.Manager.List())
	case http.MethodPost:
		h.createKernel(w, r)
	default:
		WriteError(w, KindMethodNotAllowed, "GET, POST only")
	}
}

type createKernelRequest struct {
	Name string            `json:"name"`
	Env  map[string]string `json:"env"`
}

func (h *Handlers) createKernel(w http.ResponseWriter, r *http.Request) {
	var req createKernelRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, KindLaunchFailed, "Malformed kernel creation request")
			return
		}
	}
	k, err := h.Manager.Create(r.Context(), req.Name, "", req.Env)
	if err != nil {
		writeCreateError(w, err)
		return
	}
	WriteJSONStatus(w, http.StatusCreated, kernelInfo(k))
}

// writeCreateError maps a Manager.Create failure onto the raw surface's
// error taxonomy.
func writeCreateError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, manager.ErrCapacityExceeded):
		WriteError(w, KindCapacityExceeded, "Kernel capacity exceeded")
	case errors.Is(err, manager.ErrUnknownSpec):
		WriteError(w, KindUnknownSpec, "NoSuchKernel: "+err.Error())
	case errors.Is(err, manager.ErrSeedFailed):
		WriteError(w, KindSeedFailed, err.Error())
	default:
		klog.Errorf("httpapi: kernel creation failed: %v", err)
		WriteError(w, KindLaunchFailed, "Kernel creation failed")
	}
}

func kernelInfo(k *kernelclient.Kernel) map[string]interface{} {
	return map[string]interface{}{
		"id":              k.ID,
		"name":            k.SpecName,
		"last_activity":   k.LastActivity(),
		"execution_state": k.State().String(),
		"connections":     k.Connections(),
	}
}

// handleKernelByID dispatches /api/kernels/{id}[/...] subpaths.
func (h *Handlers) handleKernelByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/kernels/")
	parts := strings.SplitN(rest, "/", 2)
	id := parts[0]
	if id == "" {
		WriteError(w, KindNotFound, "Missing kernel id")
		return
	}
	if len(parts) == 2 && parts[1] == "channels" {
		h.handleChannels(w, r, id)
		return
	}
	if len(parts) == 2 && parts[1] == "interrupt" && r.Method == http.MethodPost {
		h.interruptKernel(w, r, id)
		return
	}
	if len(parts) == 2 && parts[1] == "restart" && r.Method == http.MethodPost {
		h.restartKernel(w, r, id)
		return
	}

	k, err := h.Manager.Get(id)
	if err != nil {
		WriteError(w, KindNotFound, "Kernel not found")
		return
	}
	switch r.Method {
	case http.MethodGet:
		WriteJSON(w, kernelInfo(k))
	case http.MethodDelete:
		h.Sessions.DeleteByKernel(id)
		if err := h.Manager.Shutdown(r.Context(), id); err != nil {
			WriteError(w, KindNotFound, "Kernel not found")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		WriteError(w, KindMethodNotAllowed, "GET, DELETE only")
	}
}

func (h *Handlers) interruptKernel(w http.ResponseWriter, r *http.Request, id string) {
	k, err := h.Manager.Get(id)
	if err != nil {
		WriteError(w, KindNotFound, "Kernel not found")
		return
	}
	if err := k.Interrupt(r.Context()); err != nil {
		WriteError(w, KindExecutionError, "Interrupt failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) restartKernel(w http.ResponseWriter, r *http.Request, id string) {
	// A restart is a shutdown followed by a fresh launch under the same id;
	// any attached WebSocket bridges observe the kernel's Done() channel and
	// tear themselves down.
	k, err := h.Manager.Get(id)
	if err != nil {
		WriteError(w, KindNotFound, "Kernel not found")
		return
	}
	name := k.SpecName
	if err := h.Manager.Shutdown(r.Context(), id); err != nil {
		WriteError(w, KindNotFound, "Kernel not found")
		return
	}
	newKernel, err := h.Manager.Create(r.Context(), name, id, nil)
	if err != nil {
		klog.Errorf("httpapi: kernel restart failed: %v", err)
		WriteError(w, KindLaunchFailed, "Kernel restart failed")
		return
	}
	WriteJSON(w, kernelInfo(newKernel))
}

func (h *Handlers) handleChannels(w http.ResponseWriter, r *http.Request, id string) {
	k, err := h.Manager.Get(id)
	if err != nil {
		WriteError(w, KindNotFound, "Kernel not found")
		return
	}
	conn, err := h.Upgrader.Upgrade(w, r, nil)
	if err != nil {
		klog.Warningf("httpapi: websocket upgrade failed: %v", err)
		return
	}
	bridge := wsbridge.New(conn, k)
	bridge.Run(r.Context(), h.WSPingInterval)
}

func (h *Handlers) handleSessions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		if !h.ListKernelsPublic {
			WriteError(w, KindListForbidden, "Listing sessions is disabled")
			return
		}
		WriteJSON(w, h.Sessions.List())
	case http.MethodPost:
		h.createSession(w, r)
	default:
		WriteError(w, KindMethodNotAllowed, "GET, POST only")
	}
}

type createSessionRequest struct {
	ID     string `json:"id"`
	Path   string `json:"path"`
	Name   string `json:"name"`
	Type   string `json:"type"`
	Kernel struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"kernel"`
}

func (h *Handlers) createSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, KindLaunchFailed, "Malformed session creation request")
		return
	}

	kernelID := req.Kernel.ID
	if kernelID == "" {
		k, err := h.Manager.Create(r.Context(), req.Kernel.Name, "", nil)
		if err != nil {
			writeCreateError(w, err)
			return
		}
		kernelID = k.ID
	} else if _, err := h.Manager.Get(kernelID); err != nil {
		WriteError(w, KindNotFound, "Kernel not found")
		return
	}

	s, err := h.Sessions.Create(req.Path, req.Name, req.Type, kernelID, req.ID)
	if err != nil {
		klog.Errorf("httpapi: session creation failed: %v", err)
		WriteError(w, KindLaunchFailed, "Session creation failed")
		return
	}
	WriteJSONStatus(w, http.StatusCreated, s)
}

func (h *Handlers) handleSessionByID(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/api/sessions/")
	if id == "" {
		WriteError(w, KindNotFound, "Missing session id")
		return
	}
	switch r.Method {
	case http.MethodGet:
		s, err := h.Sessions.Get(id)
		if err != nil {
			WriteError(w, KindNotFound, "Session not found")
			return
		}
		WriteJSON(w, s)
	case http.MethodPatch:
		var req struct {
			Path string `json:"path"`
			Name string `json:"name"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, KindNotFound, "Malformed session update request")
			return
		}
		s, err := h.Sessions.Update(id, req.Path, req.Name)
		if err != nil {
			WriteError(w, KindNotFound, "Session not found")
			return
		}
		WriteJSON(w, s)
	case http.MethodDelete:
		if err := h.Sessions.Delete(id); err != nil {
			WriteError(w, KindNotFound, "Session not found")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		WriteError(w, KindMethodNotAllowed, "GET, PATCH, DELETE only")
	}
}

package httpapi

import (
	"encoding/json"
	"net/http"

	"gopkg.in/yaml.v3"

	"github.com/kernelgateway/kgatewayd/internal/swagger"
)

// rawSurfaceDoc is the static Swagger description of the raw kernel
// surface, served from /api/swagger.json and /api/swagger.yaml.
func rawSurfaceDoc() swagger.Document {
	op := func(summary string) swagger.Operation {
		return swagger.Operation{
			Summary:   summary,
			Responses: map[string]swagger.Response{"200": {Description: "Success"}},
		}
	}
	return swagger.Document{
		Swagger: "2.0",
		Info:    swagger.Info{Title: "Kernel Gateway API", Version: Version},
		Paths: map[string]map[string]swagger.Operation{
			"/api": {
				"get": op("Get API version"),
			},
			"/api/kernelspecs": {
				"get": op("List installed kernelspecs"),
			},
			"/api/kernels": {
				"get":  op("List running kernels"),
				"post": op("Start a kernel"),
			},
			"/api/kernels/{id}": {
				"get":    op("Get a single kernel"),
				"delete": op("Shut down a kernel"),
			},
			"/api/kernels/{id}/channels": {
				"get": op("Upgrade to the kernel's WebSocket channels"),
			},
			"/api/sessions": {
				"get":  op("List sessions"),
				"post": op("Create a session"),
			},
			"/api/sessions/{id}": {
				"get":    op("Get a single session"),
				"patch":  op("Rename a session"),
				"delete": op("Delete a session"),
			},
		},
	}
}

func (h *Handlers) handleSwaggerJSON(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteError(w, KindMethodNotAllowed, "GET only")
		return
	}
	body, err := swagger.Marshal(rawSurfaceDoc())
	if err != nil {
		WriteError(w, KindExecutionError, "Failed to render swagger document")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(body)
}

// handleSwaggerYAML serves the same document as YAML. The document is
// round-tripped through its JSON form so the YAML keys match the JSON
// struct tags rather than Go field names.
func (h *Handlers) handleSwaggerYAML(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteError(w, KindMethodNotAllowed, "GET only")
		return
	}
	jsonBody, err := swagger.Marshal(rawSurfaceDoc())
	if err != nil {
		WriteError(w, KindExecutionError, "Failed to render swagger document")
		return
	}
	var generic map[string]interface{}
	if err := json.Unmarshal(jsonBody, &generic); err != nil {
		WriteError(w, KindExecutionError, "Failed to render swagger document")
		return
	}
	body, err := yaml.Marshal(generic)
	if err != nil {
		WriteError(w, KindExecutionError, "Failed to render swagger document")
		return
	}
	w.Header().Set("Content-Type", "application/x-yaml")
	_, _ = w.Write(body)
}

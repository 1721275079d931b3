// Package swagger emits a Swagger 2.0 document describing the notebook-HTTP
// surface's discovered endpoints, and recognizes Markdown "swaggerlet"
// cells that declare endpoints as a literal Swagger JSON object.
package swagger

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/kernelgateway/kgatewayd/internal/cellparser"
	"github.com/kernelgateway/kgatewayd/internal/endpointrouter"
)

// Document is a minimal Swagger 2.0 root object, enough to describe a
// notebook-HTTP surface's discovered routes.
type Document struct {
	Swagger  string                          `json:"swagger"`
	Info     Info                            `json:"info"`
	BasePath string                          `json:"basePath,omitempty"`
	Paths    map[string]map[string]Operation `json:"paths"`
}

// Info is the document's top-level metadata block.
type Info struct {
	Title   string `json:"title"`
	Version string `json:"version"`
}

// Operation describes one verb on one path. Response bodies are not known
// statically (they're produced by arbitrary kernel code), so only a generic
// 200 response is declared.
type Operation struct {
	Summary   string              `json:"summary,omitempty"`
	Responses map[string]Response `json:"responses"`
}

// Response is a single declared Swagger response.
type Response struct {
	Description string `json:"description"`
}

// FromRoutes builds a deterministic Swagger document from the router's
// compiled routes: identical input always produces identical JSON.
func FromRoutes(title, basePath string, routes []*endpointrouter.Route) Document {
	doc := Document{
		Swagger:  "2.0",
		Info:     Info{Title: title, Version: "1.0.0"},
		BasePath: basePath,
		Paths:    map[string]map[string]Operation{},
	}
	for _, r := range routes {
		swaggerPath := toSwaggerPath(r.PathTemplate)
		ops := map[string]Operation{}
		for _, verb := range endpointrouter.Methods(r) {
			ops[strings.ToLower(verb)] = Operation{
				Summary:   verb + " " + r.PathTemplate,
				Responses: map[string]Response{"200": {Description: "Success"}},
			}
		}
		doc.Paths[swaggerPath] = ops
	}
	return doc
}

// toSwaggerPath converts our `/:name` path templates to Swagger's
// `/{name}` convention.
func toSwaggerPath(pathTemplate string) string {
	segs := strings.Split(strings.Trim(pathTemplate, "/"), "/")
	for i, s := range segs {
		if strings.HasPrefix(s, ":") {
			segs[i] = "{" + s[1:] + "}"
		}
	}
	return "/" + strings.Join(segs, "/")
}

// Marshal renders the document as indented JSON for the /api/swagger.json
// (or notebook-http /_api/spec/swagger.json) endpoint.
func Marshal(doc Document) ([]byte, error) {
	return json.MarshalIndent(doc, "", "  ")
}

// EndpointsFromMarkdown scans markdown cells for swaggerlets and converts
// their path operations into endpoint declarations, so a notebook can
// declare its surface as a literal Swagger document instead of per-cell
// comment indicators. The executable code for an operation travels in its
// "source" member; operations without one are skipped. Swagger's /{name}
// parameters become the /:name template form, so swaggerlet routes share
// the comment-indicator routes' precedence rules.
func EndpointsFromMarkdown(cells []string) []cellparser.Endpoint {
	var out []cellparser.Endpoint
	for _, cell := range cells {
		doc, ok := FromMarkdown(cell)
		if !ok {
			continue
		}
		paths, ok := doc["paths"].(map[string]interface{})
		if !ok {
			continue
		}
		keys := make([]string, 0, len(paths))
		for p := range paths {
			keys = append(keys, p)
		}
		sort.Strings(keys)
		for _, p := range keys {
			ops, ok := paths[p].(map[string]interface{})
			if !ok {
				continue
			}
			for _, verb := range []string{"get", "post", "put", "delete"} {
				op, ok := ops[verb].(map[string]interface{})
				if !ok {
					continue
				}
				source, ok := op["source"].(string)
				if !ok {
					continue
				}
				out = append(out, cellparser.Endpoint{
					Path:   fromSwaggerPath(p),
					Verb:   strings.ToUpper(verb),
					Source: source,
				})
			}
		}
	}
	return out
}

// fromSwaggerPath converts Swagger's `/{name}` convention back to our
// `/:name` path templates.
func fromSwaggerPath(p string) string {
	segs := strings.Split(strings.Trim(p, "/"), "/")
	for i, s := range segs {
		if strings.HasPrefix(s, "{") && strings.HasSuffix(s, "}") {
			segs[i] = ":" + s[1:len(s)-1]
		}
	}
	return "/" + strings.Join(segs, "/")
}

// FromMarkdown recognizes the Swagger Markdown-cell variant: a fenced code
// block whose JSON body declares top-level "swagger" and "paths" keys.
// Returns ok=false for any cell that is not a swaggerlet.
func FromMarkdown(cellSource string) (raw map[string]interface{}, ok bool) {
	lines := strings.Split(cellSource, "\n")
	if len(lines) > 2 {
		if strings.HasPrefix(lines[0], "```") {
			lines = lines[1:]
		}
		if len(lines) > 0 && strings.HasPrefix(lines[len(lines)-1], "```") {
			lines = lines[:len(lines)-1]
		}
	}
	var doc map[string]interface{}
	if err := json.Unmarshal([]byte(strings.Join(lines, "")), &doc); err != nil {
		return nil, false
	}
	if _, hasSwagger := doc["swagger"]; !hasSwagger {
		return nil, false
	}
	if _, hasPaths := doc["paths"]; !hasPaths {
		return nil, false
	}
	return doc, true
}

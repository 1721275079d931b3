// Package endpointrouter implements the notebook-HTTP endpoint router:
// turning a `/:name`-style path template into a matchable, parameterised
// regular expression, and ordering candidate routes by specificity.
package endpointrouter

import (
	"net/http"
	"regexp"
	"sort"
	"strings"

	"github.com/kernelgateway/kgatewayd/internal/cellparser"
)

// Route is one compiled endpoint: its path pattern, the regex that matches
// concrete request paths, and the cell source registered per HTTP verb.
type Route struct {
	PathTemplate string
	Pattern      *regexp.Regexp
	Specificity  int
	Handlers     map[string]string // verb -> concatenated cell source
	Responses    map[string]string // verb -> response-metadata cell source
}

// Compile turns a `/:name`-style path template into an anchored regex with
// named capture groups.
func Compile(pathTemplate string) (*regexp.Regexp, error) {
	if pathTemplate == "/" {
		return regexp.Compile(`^/$`)
	}
	segments := strings.Split(strings.Trim(pathTemplate, "/"), "/")
	var b strings.Builder
	b.WriteString("^/")
	for i, seg := range segments {
		if i > 0 {
			b.WriteString("/")
		}
		if strings.HasPrefix(seg, ":") {
			name := seg[1:]
			b.WriteString("(?P<" + name + ">[^/]+)")
		} else {
			b.WriteString(regexp.QuoteMeta(seg))
		}
	}
	b.WriteString("$")
	return regexp.Compile(b.String())
}

// Router holds every compiled endpoint, ordered by specificity descending
// (most specific first).
type Router struct {
	routes []*Route
}

// New builds a Router from the endpoints a cellparser.Parser discovered.
func New(endpoints []cellparser.Endpoint, responses map[string]map[string]string) (*Router, error) {
	byPath := map[string]*Route{}
	var order []string
	for _, ep := range endpoints {
		r, ok := byPath[ep.Path]
		if !ok {
			pattern, err := Compile(ep.Path)
			if err != nil {
				return nil, err
			}
			r = &Route{
				PathTemplate: ep.Path,
				Pattern:      pattern,
				Specificity:  cellparser.FirstPathParamIndex(ep.Path),
				Handlers:     map[string]string{},
				Responses:    map[string]string{},
			}
			byPath[ep.Path] = r
			order = append(order, ep.Path)
		}
		r.Handlers[ep.Verb] = ep.Source
	}
	for path, perVerb := range responses {
		r, ok := byPath[path]
		if !ok {
			continue
		}
		for verb, src := range perVerb {
			r.Responses[verb] = src
		}
	}

	routes := make([]*Route, 0, len(order))
	for _, p := range order {
		routes = append(routes, byPath[p])
	}
	// Stable sort by specificity descending; ties keep notebook definition
	// order.
	sort.SliceStable(routes, func(i, j int) bool {
		return routes[i].Specificity > routes[j].Specificity
	})
	return &Router{routes: routes}, nil
}

// Match finds the first route whose pattern matches path, returning its
// named path parameters. verbOK reports whether the matched route has a
// handler for verb at all, distinguishing 404 (no route) from 405 (route
// exists, verb unbound).
func (rt *Router) Match(method, path string) (route *Route, params map[string]string, verbOK bool) {
	for _, r := range rt.routes {
		m := r.Pattern.FindStringSubmatch(path)
		if m == nil {
			continue
		}
		params = map[string]string{}
		for i, name := range r.Pattern.SubexpNames() {
			if i == 0 || name == "" {
				continue
			}
			params[name] = m[i]
		}
		_, ok := r.Handlers[method]
		return r, params, ok
	}
	return nil, nil, false
}

// Routes returns every compiled route in specificity order, used by the
// swagger emitter and request logging.
func (rt *Router) Routes() []*Route { return rt.routes }

// Methods lists the HTTP verbs in a stable order for a given route, used
// when building a 405 Allow header.
func Methods(r *Route) []string {
	methods := make([]string, 0, len(r.Handlers))
	for _, v := range []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete} {
		if _, ok := r.Handlers[v]; ok {
			methods = append(methods, v)
		}
	}
	return methods
}

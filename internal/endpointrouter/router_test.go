package endpointrouter

import (
	"testing"

	"github.com/kernelgateway/kgatewayd/internal/cellparser"
)

func TestSpecificityOrdering(t *testing.T) {
	p := cellparser.New("python")
	eps := p.Endpoints([]string{
		"# GET /:foo\nprint('catch-all')",
		"# GET /hello/world\nprint('literal')",
		"# GET /hello/:foo\nprint('one param')",
	})
	rt, err := New(eps, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	routes := rt.Routes()
	if len(routes) != 3 {
		t.Fatalf("expected 3 routes, got %d", len(routes))
	}
	if routes[0].PathTemplate != "/hello/world" {
		t.Fatalf("expected /hello/world most specific, got %s", routes[0].PathTemplate)
	}
	if routes[1].PathTemplate != "/hello/:foo" {
		t.Fatalf("expected /hello/:foo second, got %s", routes[1].PathTemplate)
	}
	if routes[2].PathTemplate != "/:foo" {
		t.Fatalf("expected /:foo least specific, got %s", routes[2].PathTemplate)
	}
}

func TestMatchExtractsPathParams(t *testing.T) {
	p := cellparser.New("python")
	eps := p.Endpoints([]string{"# GET /hello/:person\nprint(1)"})
	rt, err := New(eps, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	route, params, ok := rt.Match("GET", "/hello/governor")
	if route == nil || !ok {
		t.Fatalf("expected a match")
	}
	if params["person"] != "governor" {
		t.Fatalf("expected person=governor, got %v", params)
	}
}

func TestMatchDistinguishesMissingVerbFromNoRoute(t *testing.T) {
	p := cellparser.New("python")
	eps := p.Endpoints([]string{"# GET /message\nprint(1)"})
	rt, err := New(eps, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, _, ok := rt.Match("GET", "/message"); !ok {
		t.Fatalf("expected GET /message to match")
	}
	if route, _, ok := rt.Match("DELETE", "/message"); route == nil || ok {
		t.Fatalf("expected a route with verbOK=false for DELETE /message")
	}
	if route, _, _ := rt.Match("GET", "/nope"); route != nil {
		t.Fatalf("expected no route for /nope")
	}
}

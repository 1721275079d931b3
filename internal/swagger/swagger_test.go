package swagger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kernelgateway/kgatewayd/internal/cellparser"
	"github.com/kernelgateway/kgatewayd/internal/endpointrouter"
)

func routesFrom(t *testing.T, cells []string) []*endpointrouter.Route {
	t.Helper()
	p := cellparser.New("python")
	rt, err := endpointrouter.New(p.Endpoints(cells), nil)
	require.NoError(t, err)
	return rt.Routes()
}

func TestFromRoutesIsDeterministic(t *testing.T) {
	cells := []string{
		"# GET /hello/:person\nprint('hi')",
		"# POST /items\nprint('ok')",
	}
	a, err := Marshal(FromRoutes("t", "", routesFrom(t, cells)))
	require.NoError(t, err)
	b, err := Marshal(FromRoutes("t", "", routesFrom(t, cells)))
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
}

func TestFromRoutesConvertsParamsToBraces(t *testing.T) {
	doc := FromRoutes("t", "", routesFrom(t, []string{"# GET /hello/:person\nprint('hi')"}))
	require.Contains(t, doc.Paths, "/hello/{person}")
	require.Contains(t, doc.Paths["/hello/{person}"], "get")
}

func TestFromMarkdownRecognizesSwaggerlet(t *testing.T) {
	cell := "```\n{\"swagger\": \"2.0\", \"paths\": {\"/x\": {}}}\n```"
	doc, ok := FromMarkdown(cell)
	require.True(t, ok)
	assert.Equal(t, "2.0", doc["swagger"])
}

func TestEndpointsFromMarkdownExtractsOperations(t *testing.T) {
	cell := "```\n{\"swagger\": \"2.0\", \"paths\": {\"/items/{id}\": {\"get\": {\"source\": \"print(REQUEST['path']['id'])\"}, \"post\": {\"summary\": \"no source\"}}}}\n```"
	eps := EndpointsFromMarkdown([]string{cell})
	require.Len(t, eps, 1)
	assert.Equal(t, "/items/:id", eps[0].Path)
	assert.Equal(t, "GET", eps[0].Verb)
	assert.Equal(t, "print(REQUEST['path']['id'])", eps[0].Source)
}

func TestFromMarkdownRejectsPlainMarkdown(t *testing.T) {
	_, ok := FromMarkdown("# A heading\n\nsome prose")
	assert.False(t, ok)

	_, ok = FromMarkdown("{\"paths\": {}}")
	assert.False(t, ok, "missing top-level swagger key")
}

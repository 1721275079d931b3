package cellparser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerbAndPathFromIndicatorLine(t *testing.T) {
	p := New("python")
	verb, path, ok := p.VerbAndPath("# GET /hello/:person\nprint('hi')")
	require.True(t, ok)
	assert.Equal(t, "GET", verb)
	assert.Equal(t, "/hello/:person", path)
}

func TestIndicatorMustBeOnFirstLine(t *testing.T) {
	p := New("python")
	assert.False(t, p.IsAPICell("print('hi')\n# GET /late"))
}

func TestScalaUsesSlashSlashPrefix(t *testing.T) {
	p := New("scala")
	assert.True(t, p.IsAPICell("// POST /items\nprintln(\"x\")"))
	assert.False(t, p.IsAPICell("# POST /items\nprintln(\"x\")"))
}

func TestResponseCellIsNotAPICell(t *testing.T) {
	p := New("python")
	cell := "# ResponseInfo GET /hello\nprint(json.dumps({\"status\": 201}))"
	assert.True(t, p.IsResponseCell(cell))
	assert.False(t, p.IsAPICell(cell))
	assert.False(t, p.SeedCell(cell))
}

func TestEndpointsConcatenateSameVerbAndPath(t *testing.T) {
	p := New("python")
	eps := p.Endpoints([]string{
		"# GET /msg\nfirst = 1",
		"# GET /msg\nsecond = 2",
	})
	require.Len(t, eps, 1)
	assert.Equal(t, "# GET /msg\nfirst = 1\n# GET /msg\nsecond = 2\n", eps[0].Source)
}

func TestEndpointsOrderedBySpecificityDescending(t *testing.T) {
	p := New("python")
	eps := p.Endpoints([]string{
		"# GET /:foo\na = 1",
		"# GET /hello/world\nb = 2",
		"# GET /hello/:foo\nc = 3",
	})
	require.Len(t, eps, 3)
	assert.Equal(t, "/hello/world", eps[0].Path)
	assert.Equal(t, "/hello/:foo", eps[1].Path)
	assert.Equal(t, "/:foo", eps[2].Path)
}

func TestFirstPathParamIndex(t *testing.T) {
	assert.Equal(t, 1, FirstPathParamIndex("/foo/:bar"))
	assert.Equal(t, 2, FirstPathParamIndex("/foo/quo/:bar"))
	assert.Equal(t, 0, FirstPathParamIndex("/:bar"))
	assert.Greater(t, FirstPathParamIndex("/foo/quo/bar"), 1<<20)
}

func TestSeedCellExcludesIndicatorCells(t *testing.T) {
	p := New("python")
	assert.True(t, p.SeedCell("import json"))
	assert.False(t, p.SeedCell("# GET /x\nprint(1)"))
	assert.False(t, p.SeedCell("# ResponseInfo GET /x\nprint(1)"))
}

func TestResponseMetadataGroupedByPathAndVerb(t *testing.T) {
	p := New("python")
	meta := p.ResponseMetadata([]string{
		"# ResponseInfo GET /hello\nprint('{}')",
		"import json",
	})
	require.Contains(t, meta, "/hello")
	require.Contains(t, meta["/hello"], "GET")
}

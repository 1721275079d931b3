// Package cellparser classifies notebook code cells: which declare a REST
// endpoint, which a response-metadata override, and which are plain seed
// cells, from a comment-prefix indicator convention. Cells are matched
// against a language-specific comment prefix ("#" by default, "//" for
// Scala); the same (verb, path) pair may be declared across several cells,
// whose source is concatenated in notebook order.
package cellparser

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// commentPrefix maps a kernel language to its line-comment token. Unknown
// languages fall back to "#".
var commentPrefix = map[string]string{
	"scala": "//",
}

func prefixFor(kernelLanguage string) string {
	if p, ok := commentPrefix[kernelLanguage]; ok {
		return p
	}
	return "#"
}

// Endpoint is one (verb, path) pair and the concatenated source of every
// cell that declared it.
type Endpoint struct {
	Path   string
	Verb   string
	Source string
}

// Parser classifies cells for a single kernel language.
type Parser struct {
	apiIndicator      *regexp.Regexp
	responseIndicator *regexp.Regexp
}

// New builds a Parser whose comment indicator matches the given kernel
// language's comment syntax.
func New(kernelLanguage string) *Parser {
	prefix := regexp.QuoteMeta(prefixFor(kernelLanguage))
	return &Parser{
		apiIndicator:      regexp.MustCompile(`(?m)^` + prefix + `\s+(GET|PUT|POST|DELETE)\s+(/\S*)`),
		responseIndicator: regexp.MustCompile(`(?m)^` + prefix + `\s+ResponseInfo\s+(GET|PUT|POST|DELETE)\s+(/\S*)`),
	}
}

// IsAPICell reports whether source's first line declares an endpoint.
func (p *Parser) IsAPICell(source string) bool {
	return p.apiIndicator.FindStringIndex(firstLine(source)) != nil
}

// IsResponseCell reports whether source's first line declares a
// response-metadata override.
func (p *Parser) IsResponseCell(source string) bool {
	return p.responseIndicator.FindStringIndex(firstLine(source)) != nil
}

func firstLine(source string) string {
	if i := strings.IndexByte(source, '\n'); i >= 0 {
		return source[:i]
	}
	return source
}

// VerbAndPath extracts the declared verb and path from an endpoint cell's
// indicator line, or ok=false if source is not an endpoint cell.
func (p *Parser) VerbAndPath(source string) (verb, path string, ok bool) {
	m := p.apiIndicator.FindStringSubmatch(firstLine(source))
	if m == nil {
		return "", "", false
	}
	return m[1], strings.TrimSpace(m[2]), true
}

func (p *Parser) responseVerbAndPath(source string) (verb, path string, ok bool) {
	m := p.responseIndicator.FindStringSubmatch(firstLine(source))
	if m == nil {
		return "", "", false
	}
	return m[1], strings.TrimSpace(m[2]), true
}

// Endpoints scans source cells in order and returns every distinct
// (verb, path) endpoint with its concatenated source, sorted by
// FirstPathParamIndex descending (most specific literal prefix first),
// ties broken by definition order.
func (p *Parser) Endpoints(cells []string) []Endpoint {
	type key struct{ verb, path string }
	order := map[key]int{}
	source := map[key]*strings.Builder{}
	var keys []key

	for _, cell := range cells {
		verb, path, ok := p.VerbAndPath(cell)
		if !ok {
			continue
		}
		k := key{verb, path}
		if _, seen := source[k]; !seen {
			order[k] = len(keys)
			keys = append(keys, k)
			source[k] = &strings.Builder{}
		}
		source[k].WriteString(cell)
		source[k].WriteByte('\n')
	}

	sort.SliceStable(keys, func(i, j int) bool {
		pi, pj := FirstPathParamIndex(keys[i].path), FirstPathParamIndex(keys[j].path)
		if pi != pj {
			return pi > pj
		}
		return order[keys[i]] < order[keys[j]]
	})

	out := make([]Endpoint, 0, len(keys))
	for _, k := range keys {
		out = append(out, Endpoint{Path: k.path, Verb: k.verb, Source: source[k].String()})
	}
	return out
}

// ResponseMetadata scans source cells for ResponseInfo declarations and
// returns the concatenated source per (verb, path).
func (p *Parser) ResponseMetadata(cells []string) map[string]map[string]string {
	out := map[string]map[string]string{}
	for _, cell := range cells {
		verb, path, ok := p.responseVerbAndPath(cell)
		if !ok {
			continue
		}
		if out[path] == nil {
			out[path] = map[string]string{}
		}
		out[path][verb] += cell + "\n"
	}
	return out
}

// FirstPathParamIndex returns the number of literal path segments before
// the first ":param" placeholder, or a very large sentinel if the path has
// no parameters at all, so that paths with more literal segments (more
// specific routes) sort before less specific ones.
//
// FirstPathParamIndex("/foo/:bar")     == 1
// FirstPathParamIndex("/foo/quo/:bar") == 2
// FirstPathParamIndex("/foo/quo/bar")  == 1 << 30 (no params)
func FirstPathParamIndex(path string) int {
	idx := strings.IndexByte(path, ':')
	if idx < 0 {
		return 1 << 30
	}
	return strings.Count(path[:idx], "/") - 1
}

// SeedCell reports whether a cell should run during kernel seeding: any
// cell that is not itself an endpoint or response-metadata declaration runs
// unconditionally when the notebook is seeded.
func (p *Parser) SeedCell(source string) bool {
	return !p.IsAPICell(source) && !p.IsResponseCell(source)
}

// String renders an endpoint as "VERB /path", used in route logging.
func (e Endpoint) String() string {
	return fmt.Sprintf("%s %s", e.Verb, e.Path)
}

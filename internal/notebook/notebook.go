// Package notebook parses the Jupyter notebook (nbformat) JSON document
// used as the seed notebook: code and markdown cells, and the
// metadata.kernelspec.name used to decide whether a given kernel should be
// seeded at all. Only the notebook-http personality loads a seed notebook;
// under the raw personality none is read and created kernels are not seeded.
package notebook

import (
	"encoding/json"
	"strings"

	"github.com/pkg/errors"
)

// Cell is one notebook cell, source already flattened to a single string
// (nbformat stores source as either a string or a list of lines).
type Cell struct {
	Type   string // "code", "markdown", "raw"
	Source string
}

// KernelSpec is the notebook's declared target kernel, from
// metadata.kernelspec.
type KernelSpec struct {
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
	Language    string `json:"language"`
}

// Notebook is a parsed .ipynb document reduced to what the gateway needs:
// ordered cells and the declared kernelspec.
type Notebook struct {
	Cells      []Cell
	KernelSpec KernelSpec
}

type rawNotebook struct {
	Cells    []rawCell `json:"cells"`
	Metadata struct {
		KernelSpec KernelSpec `json:"kernelspec"`
	} `json:"metadata"`
}

type rawCell struct {
	CellType string          `json:"cell_type"`
	Source   json.RawMessage `json:"source"`
}

// Parse decodes raw nbformat JSON into a Notebook.
func Parse(data []byte) (*Notebook, error) {
	var raw rawNotebook
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, errors.Wrap(err, "parsing notebook JSON")
	}
	nb := &Notebook{KernelSpec: raw.Metadata.KernelSpec}
	for _, c := range raw.Cells {
		src, err := flattenSource(c.Source)
		if err != nil {
			return nil, errors.Wrap(err, "flattening cell source")
		}
		nb.Cells = append(nb.Cells, Cell{Type: c.CellType, Source: src})
	}
	return nb, nil
}

// flattenSource handles both nbformat source encodings: a single string, or
// a list of lines that must be concatenated verbatim (each line already
// carries its own trailing newline except possibly the last).
func flattenSource(raw json.RawMessage) (string, error) {
	if len(raw) == 0 {
		return "", nil
	}
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		return asString, nil
	}
	var asLines []string
	if err := json.Unmarshal(raw, &asLines); err != nil {
		return "", err
	}
	return strings.Join(asLines, ""), nil
}

// CodeCellSources returns the source of every code cell, in notebook order,
// the shape cellparser.Parser.Endpoints/ResponseMetadata/SeedCell expect.
func (nb *Notebook) CodeCellSources() []string {
	out := make([]string, 0, len(nb.Cells))
	for _, c := range nb.Cells {
		if c.Type == "code" {
			out = append(out, c.Source)
		}
	}
	return out
}

// MarkdownCellSources returns the source of every markdown cell, used when
// scanning for Markdown swaggerlet cells.
func (nb *Notebook) MarkdownCellSources() []string {
	out := make([]string, 0)
	for _, c := range nb.Cells {
		if c.Type == "markdown" {
			out = append(out, c.Source)
		}
	}
	return out
}

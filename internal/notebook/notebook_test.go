package notebook

import "testing"

func TestParseFlattensListSource(t *testing.T) {
	doc := []byte(`{
		"metadata": {"kernelspec": {"name": "python3", "language": "python"}},
		"cells": [
			{"cell_type": "code", "source": ["# GET /hello\n", "print('hi')"]},
			{"cell_type": "markdown", "source": "# doc"}
		]
	}`)
	nb, err := Parse(doc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if nb.KernelSpec.Name != "python3" {
		t.Fatalf("expected kernelspec python3, got %q", nb.KernelSpec.Name)
	}
	code := nb.CodeCellSources()
	if len(code) != 1 || code[0] != "# GET /hello\nprint('hi')" {
		t.Fatalf("unexpected code cell source: %q", code)
	}
	md := nb.MarkdownCellSources()
	if len(md) != 1 || md[0] != "# doc" {
		t.Fatalf("unexpected markdown cell source: %q", md)
	}
}

func TestParseAcceptsScalarStringSource(t *testing.T) {
	doc := []byte(`{"cells": [{"cell_type": "code", "source": "print(1)"}]}`)
	nb, err := Parse(doc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if nb.CodeCellSources()[0] != "print(1)" {
		t.Fatalf("unexpected source")
	}
}

package dispatcher

import (
	"net/http"
	"strings"
	"testing"

	"github.com/kernelgateway/kgatewayd/internal/kernelclient"
)

func TestClassifyCollectsStdoutStreams(t *testing.T) {
	res := classify(&kernelclient.ExecuteResult{
		Status: "ok",
		Outputs: []kernelclient.Output{
			{Type: "stream", Content: map[string]interface{}{"name": "stdout", "text": "hello "}},
			{Type: "stream", Content: map[string]interface{}{"name": "stdout", "text": "governor\n"}},
		},
	})
	if res.Status != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Status)
	}
	if string(res.Body) != "hello governor\n" {
		t.Fatalf("unexpected body %q", res.Body)
	}
	if res.ContentType != "text/plain" {
		t.Fatalf("expected text/plain, got %s", res.ContentType)
	}
}

func TestClassifyDiscardsStderr(t *testing.T) {
	res := classify(&kernelclient.ExecuteResult{
		Status: "ok",
		Outputs: []kernelclient.Output{
			{Type: "stream", Content: map[string]interface{}{"name": "stderr", "text": "warning"}},
		},
	})
	if res.Status != http.StatusOK || len(res.Body) != 0 {
		t.Fatalf("stderr-only cell must yield 200 with empty body, got %d %q", res.Status, res.Body)
	}
}

func TestClassifyPrefersExecuteResultOverStdout(t *testing.T) {
	res := classify(&kernelclient.ExecuteResult{
		Status: "ok",
		Outputs: []kernelclient.Output{
			{Type: "stream", Content: map[string]interface{}{"name": "stdout", "text": "noise"}},
			{Type: "execute_result", Content: map[string]interface{}{
				"data": map[string]interface{}{"application/json": `{"a": 1}`},
			}},
		},
	})
	if string(res.Body) != `{"a": 1}` {
		t.Fatalf("expected execute_result body, got %q", res.Body)
	}
	if res.ContentType != "application/json" {
		t.Fatalf("expected execute_result's own mime type, got %s", res.ContentType)
	}
}

func TestClassifyErrorReplyIs500WithEnameEvalue(t *testing.T) {
	res := classify(&kernelclient.ExecuteResult{
		Status: "error",
		ReplyContent: map[string]interface{}{
			"ename":  "NameError",
			"evalue": "name 'x' is not defined",
		},
	})
	if res.Status != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", res.Status)
	}
	if string(res.Body) != "Error NameError: name 'x' is not defined" {
		t.Fatalf("unexpected body %q", res.Body)
	}
}

func TestClassifyIOPubErrorOutputIs500(t *testing.T) {
	res := classify(&kernelclient.ExecuteResult{
		Status: "ok",
		Outputs: []kernelclient.Output{
			{Type: "error", Content: map[string]interface{}{"ename": "ValueError", "evalue": "bad"}},
		},
	})
	if res.Status != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", res.Status)
	}
}

func TestFormatRequestPerLanguage(t *testing.T) {
	bundle := map[string]string{"k": "v"}
	cases := []struct {
		language string
		prefix   string
	}{
		{"python", "REQUEST = "},
		{"perl", "my $REQUEST = "},
		{"bash", "REQUEST="},
		{"", "REQUEST = "},
	}
	for _, c := range cases {
		got, err := FormatRequest(bundle, c.language)
		if err != nil {
			t.Fatalf("%s: %v", c.language, err)
		}
		if !strings.HasPrefix(got, c.prefix) {
			t.Fatalf("%s: expected prefix %q, got %q", c.language, c.prefix, got)
		}
		if !strings.HasSuffix(got, `{"k":"v"}`) {
			t.Fatalf("%s: expected JSON payload, got %q", c.language, got)
		}
	}
}

package out

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/GabrielCartier/noir-monorepo-sub000/internal/model"
)

func testEnvelope(data any) model.Envelope {
	return model.Envelope{
		Version: model.EnvelopeVersion,
		Success: true,
		Data:    data,
		Meta: model.EnvelopeMeta{
			RequestID: "req-1",
			Timestamp: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
			Command:   "positions",
		},
	}
}

func TestRenderJSONRoundTrips(t *testing.T) {
	var buf bytes.Buffer
	env := testEnvelope(map[string]string{"vault": "0xb1"})
	if err := Render(&buf, env, "json"); err != nil {
		t.Fatalf("Render() error = %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("rendered output is not JSON: %v\n%s", err, buf.String())
	}
	if decoded["success"] != true {
		t.Fatalf("success = %v, want true", decoded["success"])
	}
	data, ok := decoded["data"].(map[string]any)
	if !ok || data["vault"] != "0xb1" {
		t.Fatalf("data = %v, want vault field", decoded["data"])
	}
}

func TestRenderDefaultsToJSON(t *testing.T) {
	var buf bytes.Buffer
	if err := Render(&buf, testEnvelope(nil), ""); err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	if !strings.HasPrefix(strings.TrimSpace(buf.String()), "{") {
		t.Fatalf("output = %q, want JSON object", buf.String())
	}
}

func TestRenderPlainObjectIsSortedKeyValueLine(t *testing.T) {
	var buf bytes.Buffer
	env := testEnvelope(map[string]any{"zeta": 1, "alpha": "x"})
	if err := Render(&buf, env, "plain"); err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	line := buf.String()
	alpha := strings.Index(line, "alpha=")
	zeta := strings.Index(line, "zeta=")
	if alpha < 0 || zeta < 0 || alpha > zeta {
		t.Fatalf("plain output = %q, want sorted keys", line)
	}
}

func TestRenderPlainErrorEnvelope(t *testing.T) {
	var buf bytes.Buffer
	env := model.Envelope{
		Version: model.EnvelopeVersion,
		Success: false,
		Error:   &model.ErrorBody{Code: 30, Type: "rolled_back", Message: "protocol reverted"},
	}
	if err := Render(&buf, env, "plain"); err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	if !strings.Contains(buf.String(), "rolled_back") {
		t.Fatalf("plain output = %q, want error type", buf.String())
	}
}

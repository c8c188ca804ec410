package resultview

import (
	"errors"
	"strconv"
	"testing"

	"github.com/tidwall/gjson"
)

func fencedPayload(inner string) []byte {
	return []byte(`{"analysis":` + strconv.Quote("```json\n"+inner+"\n```") + `}`)
}

func TestRenderNested(t *testing.T) {
	payload := fencedPayload(`{
  "summary": "A cat plays piano",
  "videoQuality": {"visual": "high", "description": "sharp and well lit"},
  "categories": {"selections": ["music", "pets"]},
  "toxicity": {"isAcceptable": true, "level": "none", "reason": ""}
}`)

	out, err := Render(payload)
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	view := gjson.ParseBytes(out)

	checks := map[string]string{
		"summary":              "A cat plays piano",
		"videoQuality.rating":  "high",
		"videoQuality.details": "sharp and well lit",
		"categories.1":         "pets",
		"toxicity.level":       "none",
		"toxicity.notes":       "None",
	}
	for path, want := range checks {
		if got := view.Get(path).String(); got != want {
			t.Errorf("%s = %q, want %q", path, got, want)
		}
	}
	if !view.Get("toxicity.acceptable").Bool() {
		t.Error("expected toxicity.acceptable to be true")
	}
	if view.Get("videoQuality.visual").Exists() || view.Get("toxicity.isAcceptable").Exists() {
		t.Errorf("source keys should be replaced: %s", out)
	}
}

func TestRenderDirect(t *testing.T) {
	payload := []byte(`{"summary":"Dog runs","toxicity":{"isAcceptable":false,"level":"high","reason":"violence"}}`)

	out, err := Render(payload)
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	view := gjson.ParseBytes(out)
	if got := view.Get("toxicity.notes").String(); got != "violence" {
		t.Errorf("notes = %q, want violence", got)
	}
	if view.Get("toxicity.acceptable").Bool() {
		t.Error("expected acceptable false")
	}
	if view.Get("videoQuality").Exists() {
		t.Error("absent blocks must stay absent")
	}
}

func TestRenderMissingFields(t *testing.T) {
	out, err := Render(fencedPayload(`{"videoQuality":{"visual":"low"},"categories":{}}`))
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	view := gjson.ParseBytes(out)
	if got := view.Get("videoQuality.details"); got.Type != gjson.Null || !got.Exists() {
		t.Errorf("expected details null, got %s", got.Raw)
	}
	if got := view.Get("categories"); got.Type != gjson.Null {
		t.Errorf("expected categories null, got %s", got.Raw)
	}
}

func TestRenderErrors(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
		want    error
	}{
		{"empty", nil, ErrNoAnalysis},
		{"not an object", []byte(`[1,2]`), ErrNoAnalysis},
		{"no analysis or summary", []byte(`{"foo":1}`), ErrNoAnalysis},
		{"not json", []byte(`{"analysis":`), ErrInvalidAnalysis},
		{"broken embedded json", fencedPayload(`{not json}`), ErrInvalidAnalysis},
		{"embedded array", fencedPayload(`["a"]`), ErrInvalidAnalysis},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Render(tt.payload)
			if !errors.Is(err, tt.want) {
				t.Errorf("Render() error = %v, want %v", err, tt.want)
			}
		})
	}
}

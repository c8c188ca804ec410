// Package resultview renders a stored analysis payload for display.
package resultview

import (
	"errors"
	"fmt"

	"video-analysis/internal/summary"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

var (
	// ErrNoAnalysis means the payload carries no analysis document.
	ErrNoAnalysis = errors.New("no analysis in result")
	// ErrInvalidAnalysis means the analysis text is not a JSON object.
	ErrInvalidAnalysis = errors.New("invalid analysis JSON")
)

const defaultNotes = "None"

// Render returns the analysis document of payload with its known blocks
// flattened for display. Nested payloads are unwrapped from their fenced
// "analysis" text; direct payloads are rendered as they are.
func Render(payload []byte) ([]byte, error) {
	doc, err := document(payload)
	if err != nil {
		return nil, err
	}

	out := doc
	if vq := gjson.Get(doc, "videoQuality"); vq.Exists() {
		block := `{}`
		block, _ = sjson.SetRaw(block, "rating", rawOrNull(vq.Get("visual")))
		block, _ = sjson.SetRaw(block, "details", rawOrNull(vq.Get("description")))
		out, _ = sjson.SetRaw(out, "videoQuality", block)
	}

	if cat := gjson.Get(doc, "categories"); cat.Exists() {
		out, _ = sjson.SetRaw(out, "categories", rawOrNull(cat.Get("selections")))
	}

	if tox := gjson.Get(doc, "toxicity"); tox.Exists() {
		notes := tox.Get("reason").String()
		if notes == "" {
			notes = defaultNotes
		}
		block := `{}`
		block, _ = sjson.SetRaw(block, "acceptable", rawOrNull(tox.Get("isAcceptable")))
		block, _ = sjson.SetRaw(block, "level", rawOrNull(tox.Get("level")))
		block, _ = sjson.Set(block, "notes", notes)
		out, _ = sjson.SetRaw(out, "toxicity", block)
	}

	return []byte(out), nil
}

func document(payload []byte) (string, error) {
	if len(payload) == 0 {
		return "", ErrNoAnalysis
	}
	if !gjson.ValidBytes(payload) {
		return "", fmt.Errorf("%w: payload is not JSON", ErrInvalidAnalysis)
	}
	root := gjson.ParseBytes(payload)
	if !root.IsObject() {
		return "", ErrNoAnalysis
	}

	analysis := root.Get("analysis")
	if analysis.Type != gjson.String {
		if root.Get("summary").Exists() {
			return root.Raw, nil
		}
		return "", ErrNoAnalysis
	}

	inner := summary.StripFence(analysis.String())
	if !gjson.Valid(inner) {
		return "", fmt.Errorf("%w: embedded document does not parse", ErrInvalidAnalysis)
	}
	doc := gjson.Parse(inner)
	if !doc.IsObject() {
		return "", fmt.Errorf("%w: embedded document is not an object", ErrInvalidAnalysis)
	}
	return doc.Raw, nil
}

func rawOrNull(r gjson.Result) string {
	if !r.Exists() {
		return "null"
	}
	return r.Raw
}

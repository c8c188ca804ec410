package summary

import (
	"bytes"

	"github.com/tidwall/gjson"
)

// Shape identifies which producer wrote an analysis payload.
type Shape int

const (
	// ShapeUnknown matches neither producer.
	ShapeUnknown Shape = iota
	// ShapeDirect carries a top-level string "summary".
	ShapeDirect
	// ShapeNested carries a top-level string "analysis" holding fenced JSON text.
	ShapeNested
)

func (s Shape) String() string {
	switch s {
	case ShapeDirect:
		return "direct"
	case ShapeNested:
		return "nested"
	default:
		return "unknown"
	}
}

// Payload is a classified analysis payload. Exactly one of Summary or
// Analysis is meaningful, selected by Shape.
type Payload struct {
	Shape    Shape
	Summary  string
	Analysis string

	// why an unknown payload did not match
	mismatch Reason
}

// Classify probes raw for the two known producer shapes. A string "summary"
// takes precedence over "analysis" when both are present.
func Classify(raw []byte) Payload {
	if len(bytes.TrimSpace(raw)) == 0 || !gjson.ValidBytes(raw) {
		return Payload{mismatch: ReasonShapeMismatch}
	}
	doc := gjson.ParseBytes(raw)
	if !doc.IsObject() {
		return Payload{mismatch: ReasonShapeMismatch}
	}

	summary := field(doc, "summary")
	if summary.Type == gjson.String {
		return Payload{Shape: ShapeDirect, Summary: summary.String()}
	}
	analysis := field(doc, "analysis")
	if analysis.Type == gjson.String {
		return Payload{Shape: ShapeNested, Analysis: analysis.String()}
	}

	if summary.Exists() || analysis.Exists() {
		return Payload{mismatch: ReasonTypeMismatch}
	}
	return Payload{mismatch: ReasonShapeMismatch}
}

// field returns the top-level member key of obj. Duplicate keys resolve to
// the last occurrence, matching how the database stores jsonb.
func field(obj gjson.Result, key string) gjson.Result {
	var found gjson.Result
	obj.ForEach(func(k, v gjson.Result) bool {
		if k.String() == key {
			found = v
		}
		return true
	})
	return found
}

// Package summary derives the plain-text summary of a video analysis result.
//
// Two upstream producers write analysis results: newer ones put a "summary"
// string at the top level, older ones return the model's raw reply under
// "analysis", a fenced JSON document rendered as text. Extract accepts both and
// never fails: anything it cannot read yields an absent Result, so a bad
// payload can never block the write that carries it.
package summary

import (
	"strings"

	"github.com/tidwall/gjson"
)

const (
	fenceOpen  = "```json\n"
	fenceClose = "\n```"
)

// Reason explains an absent Result.
type Reason int

const (
	ReasonNone Reason = iota
	// ReasonShapeMismatch: the payload is neither direct nor nested.
	ReasonShapeMismatch
	// ReasonEmbeddedParseFailure: the fenced analysis text is not valid JSON.
	ReasonEmbeddedParseFailure
	// ReasonTypeMismatch: a summary (or analysis) key exists with a non-string value.
	ReasonTypeMismatch
	// ReasonEmpty: the summary was empty once cleaned.
	ReasonEmpty
)

func (r Reason) String() string {
	switch r {
	case ReasonNone:
		return "ok"
	case ReasonShapeMismatch:
		return "shape_mismatch"
	case ReasonEmbeddedParseFailure:
		return "embedded_parse_failure"
	case ReasonTypeMismatch:
		return "type_mismatch"
	case ReasonEmpty:
		return "empty"
	default:
		return "unknown"
	}
}

// Result is either a cleaned summary (Reason == ReasonNone) or absent.
type Result struct {
	Text   string
	Shape  Shape
	Reason Reason
}

// OK reports whether a summary was extracted.
func (r Result) OK() bool { return r.Reason == ReasonNone }

// Value returns the summary and whether it is present.
func (r Result) Value() (string, bool) {
	if !r.OK() {
		return "", false
	}
	return r.Text, true
}

// Ptr returns the summary as a nullable string.
func (r Result) Ptr() *string {
	if !r.OK() {
		return nil
	}
	s := r.Text
	return &s
}

// Extract returns the cleaned summary carried by raw. A nil, empty or JSON
// null payload is absent.
func Extract(raw []byte) Result {
	p := Classify(raw)
	switch p.Shape {
	case ShapeDirect:
		return clean(ShapeDirect, p.Summary)
	case ShapeNested:
		return fromAnalysis(p.Analysis)
	default:
		return Result{Shape: ShapeUnknown, Reason: p.mismatch}
	}
}

func fromAnalysis(text string) Result {
	inner := StripFence(text)
	if !gjson.Valid(inner) {
		return Result{Shape: ShapeNested, Reason: ReasonEmbeddedParseFailure}
	}
	doc := gjson.Parse(inner)
	if !doc.IsObject() {
		return Result{Shape: ShapeNested, Reason: ReasonShapeMismatch}
	}
	s := field(doc, "summary")
	switch {
	case s.Type == gjson.String:
		return clean(ShapeNested, s.String())
	case s.Exists():
		return Result{Shape: ShapeNested, Reason: ReasonTypeMismatch}
	default:
		return Result{Shape: ShapeNested, Reason: ReasonShapeMismatch}
	}
}

func clean(shape Shape, candidate string) Result {
	text := Cleanup(candidate)
	if text == "" {
		return Result{Shape: shape, Reason: ReasonEmpty}
	}
	return Result{Text: text, Shape: shape}
}

// StripFence removes a leading "```json\n" and a trailing "\n```" from s.
// Each fence is optional and only matches at its own end of the string.
func StripFence(s string) string {
	s = strings.TrimPrefix(s, fenceOpen)
	return strings.TrimSuffix(s, fenceClose)
}

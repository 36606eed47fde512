package exchange

import (
	"errors"

	"github.com/tidwall/gjson"
)

// FallbackReply is shown when a response matches no known shape or carries an
// empty value.
const FallbackReply = "I apologize, but I couldn't process that request. Could you please try again?"

// ErrInvalidJSON is returned when the response body is not JSON at all.
var ErrInvalidJSON = errors.New("response body is not valid JSON")

// Shape is the closed set of response layouts the webhook is known to return.
type Shape int

const (
	ShapeUnrecognized Shape = iota
	ShapeListOutput
	ShapeReply
	ShapeResponse
	ShapeMessage
	ShapeText
	ShapeString
	ShapeContent
)

func (s Shape) String() string {
	switch s {
	case ShapeListOutput:
		return "list_output"
	case ShapeReply:
		return "reply"
	case ShapeResponse:
		return "response"
	case ShapeMessage:
		return "message"
	case ShapeText:
		return "text"
	case ShapeString:
		return "string"
	case ShapeContent:
		return "content"
	default:
		return "unrecognized"
	}
}

// Payload is a classified response: its shape plus the value that shape selects.
type Payload struct {
	Shape Shape
	Value gjson.Result
}

// objectProbes are tried in order on object payloads, between the list-output
// rule and the bare-string rule.
var objectProbes = []struct {
	field string
	shape Shape
}{
	{"reply", ShapeReply},
	{"response", ShapeResponse},
	{"message", ShapeMessage},
	{"text", ShapeText},
}

// Classify probes body in a fixed priority order and returns the first shape
// whose value is present and truthy.
func Classify(body []byte) (Payload, error) {
	if !gjson.ValidBytes(body) {
		return Payload{}, ErrInvalidJSON
	}
	root := gjson.ParseBytes(body)

	if root.IsArray() {
		if first := root.Get("0"); first.IsObject() {
			if out := field(first, "output"); truthy(out) {
				return Payload{Shape: ShapeListOutput, Value: out}, nil
			}
		}
	}

	if root.IsObject() {
		for _, probe := range objectProbes {
			if v := field(root, probe.field); truthy(v) {
				return Payload{Shape: probe.shape, Value: v}, nil
			}
		}
	}

	if root.Type == gjson.String && truthy(root) {
		return Payload{Shape: ShapeString, Value: root}, nil
	}

	if root.IsObject() {
		if v := field(root, "content"); truthy(v) {
			return Payload{Shape: ShapeContent, Value: v}, nil
		}
	}

	return Payload{Shape: ShapeUnrecognized}, nil
}

// Text renders the payload as the reply string. Non-string values render as
// their JSON text.
func (p Payload) Text() string {
	if p.Shape == ShapeUnrecognized || !truthy(p.Value) {
		return FallbackReply
	}
	if p.Value.Type == gjson.String {
		return p.Value.Str
	}
	return p.Value.Raw
}

// Normalize classifies body and returns its display string.
func Normalize(body []byte) (string, error) {
	p, err := Classify(body)
	if err != nil {
		return "", err
	}
	return p.Text(), nil
}

// field returns the member of obj named name. Duplicate keys resolve to the
// last occurrence, as JSON.parse does; gjson's Get would return the first.
func field(obj gjson.Result, name string) gjson.Result {
	var found gjson.Result
	obj.ForEach(func(key, value gjson.Result) bool {
		if key.Str == name {
			found = value
		}
		return true
	})
	return found
}

func truthy(r gjson.Result) bool {
	switch r.Type {
	case gjson.String:
		return r.Str != ""
	case gjson.Number:
		return r.Num != 0
	case gjson.True, gjson.JSON:
		return true
	default:
		return false
	}
}

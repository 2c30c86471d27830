// Package normalize converts raw scanning-engine output into a
// model.NormalizedResult.
//
// Engine payloads pass through several hops before they reach us and are
// frequently re-encoded on the way: the discovery tool prints JSON, the
// engine embeds that text as a string field, and the submit response wraps
// it again as {"output": "<json>"}. Document is the single place where such
// nesting is resolved. Everything downstream works on unwrapped values and
// never re-inspects the raw shape.
package normalize

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/go-json-experiment/json"
	"github.com/go-json-experiment/json/jsontext"
)

// MaxUnwrapDepth bounds how many string-encoding layers Unwrap will peel.
const MaxUnwrapDepth = 8

var (
	ErrEmptyDocument = errors.New("empty document")
	ErrInvalidJSON   = errors.New("invalid json")
	ErrTooDeep       = fmt.Errorf("document nested deeper than %d levels", MaxUnwrapDepth)
)

// envelopeKeys wrap the real payload in engine responses.
var envelopeKeys = []string{"output", "result"}

// payloadKeys mark an object as the payload itself rather than an envelope.
var payloadKeys = []string{"data", "matches", "endpoints", "vulnerabilities", "findings", "discovery"}

// Document is an opaque JSON value that may contain JSON documents encoded
// as strings. The zero value is an empty document.
type Document struct {
	value jsontext.Value
}

// NewDocument wraps raw bytes without validating them.
func NewDocument(raw []byte) Document {
	return Document{value: jsontext.Value(bytes.TrimSpace(raw))}
}

func (d Document) IsEmpty() bool { return len(d.value) == 0 || string(d.value) == "null" }

// Raw returns the document bytes as given or as produced by Unwrap.
func (d Document) Raw() []byte { return []byte(d.value) }

// Unwrap resolves string-embedded JSON and result envelopes until it reaches
// a payload object, an array or a plain string. It fails when a layer is not
// valid JSON or the nesting exceeds MaxUnwrapDepth.
func (d Document) Unwrap() (Document, error) {
	if d.IsEmpty() {
		return Document{}, ErrEmptyDocument
	}
	v, err := unwrapValue(d.value, 0)
	if err != nil {
		return Document{}, err
	}
	return Document{value: v}, nil
}

func unwrapValue(v jsontext.Value, depth int) (jsontext.Value, error) {
	for ; depth <= MaxUnwrapDepth; depth++ {
		v = jsontext.Value(bytes.TrimSpace(v))
		if !v.IsValid() {
			return nil, ErrInvalidJSON
		}
		switch kindOf(v) {
		case '"':
			var s string
			if err := json.Unmarshal(v, &s); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrInvalidJSON, err)
			}
			inner := bytes.TrimSpace([]byte(s))
			if len(inner) == 0 || (inner[0] != '{' && inner[0] != '[' && inner[0] != '"') {
				return v, nil
			}
			if !jsontext.Value(inner).IsValid() {
				return nil, fmt.Errorf("%w: embedded document", ErrInvalidJSON)
			}
			v = jsontext.Value(inner)
		case '{':
			next, ok, err := envelopeOf(v)
			if err != nil {
				return nil, err
			}
			if !ok {
				return v, nil
			}
			v = next
		default:
			return v, nil
		}
	}
	return nil, ErrTooDeep
}

// envelopeOf returns the wrapped payload when obj is an envelope.
func envelopeOf(obj jsontext.Value) (jsontext.Value, bool, error) {
	m, err := objectOf(obj)
	if err != nil {
		return nil, false, err
	}
	for _, k := range payloadKeys {
		if _, ok := m[k]; ok {
			return nil, false, nil
		}
	}
	for _, k := range envelopeKeys {
		inner, ok := m[k]
		if !ok {
			continue
		}
		switch kindOf(inner) {
		case '"', '{', '[':
			return inner, true, nil
		}
	}
	return nil, false, nil
}

func objectOf(v jsontext.Value) (map[string]jsontext.Value, error) {
	var m map[string]jsontext.Value
	if err := json.Unmarshal(v, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}
	return m, nil
}

func arrayOf(v jsontext.Value) ([]jsontext.Value, error) {
	var a []jsontext.Value
	if err := json.Unmarshal(v, &a); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}
	return a, nil
}

// kindOf reports the first significant byte of v: '{', '[', '"', 'n', 't',
// 'f' or a digit/minus for numbers. Zero means empty.
func kindOf(v jsontext.Value) byte {
	v = jsontext.Value(bytes.TrimSpace(v))
	if len(v) == 0 {
		return 0
	}
	return v[0]
}

// lookup walks keys through nested objects, unwrapping string-encoded
// layers along the way.
func lookup(v jsontext.Value, keys ...string) (jsontext.Value, bool) {
	cur := v
	for _, k := range keys {
		un, err := unwrapValue(cur, 0)
		if err != nil || kindOf(un) != '{' {
			return nil, false
		}
		m, err := objectOf(un)
		if err != nil {
			return nil, false
		}
		next, ok := m[k]
		if !ok {
			return nil, false
		}
		cur = next
	}
	un, err := unwrapValue(cur, 0)
	if err != nil {
		return nil, false
	}
	return un, true
}

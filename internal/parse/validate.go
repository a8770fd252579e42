package parse

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"

	"citewise/internal/apperr"
)

// Shape describes the list a response is expected to carry.
type Shape[I any] struct {
	// Name labels the items in error messages, e.g. "flashcards".
	Name string
	// Field is the array property of the top-level object. A bare top-level
	// array is always accepted as well. Empty means only a bare array.
	Field string
	// Accept normalizes an item in place and reports whether it is complete.
	// A nil Accept keeps every decodable item.
	Accept func(*I) bool
	// OnDrop is called for every item that is not kept.
	OnDrop func(index int, reason string)
}

var schemaCache sync.Map // field -> *gojsonschema.Schema

func listSchema(field string) (*gojsonschema.Schema, error) {
	if cached, ok := schemaCache.Load(field); ok {
		return cached.(*gojsonschema.Schema), nil
	}

	def := map[string]any{"type": "array"}
	if field != "" {
		def = map[string]any{
			"anyOf": []any{
				map[string]any{"type": "array"},
				map[string]any{
					"type":     "object",
					"required": []any{field},
					"properties": map[string]any{
						field: map[string]any{"type": "array"},
					},
				},
			},
		}
	}

	schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(def))
	if err != nil {
		return nil, fmt.Errorf("compile list schema for %q: %w", field, err)
	}
	actual, _ := schemaCache.LoadOrStore(field, schema)
	return actual.(*gojsonschema.Schema), nil
}

// ExtractItems normalizes raw, checks the top-level shape and decodes every
// list item on its own. Items that fail to decode or that Accept rejects are
// dropped; the rest keep their original order.
func ExtractItems[I any](raw string, shape Shape[I]) ([]I, error) {
	doc, err := decodable(raw)
	if err != nil {
		return nil, err
	}

	schema, err := listSchema(shape.Field)
	if err != nil {
		return nil, err
	}
	if err := checkSchema(schema, doc, shape.label()); err != nil {
		return nil, err
	}

	var elems []json.RawMessage
	if strings.HasPrefix(doc, "[") {
		if err := json.Unmarshal([]byte(doc), &elems); err != nil {
			return nil, apperr.New(apperr.KindParseFailure, "decode "+shape.label(), err)
		}
	} else {
		var obj map[string]json.RawMessage
		if err := json.Unmarshal([]byte(doc), &obj); err != nil {
			return nil, apperr.New(apperr.KindParseFailure, "decode "+shape.label(), err)
		}
		if err := json.Unmarshal(obj[shape.Field], &elems); err != nil {
			return nil, apperr.New(apperr.KindParseFailure, "decode "+shape.label(), err)
		}
	}

	items := decodeElems(elems, shape.Accept, shape.drop)
	if len(items) == 0 {
		return nil, apperr.New(apperr.KindEmptyResult,
			fmt.Sprintf("no valid %s in response (%d candidates)", shape.label(), len(elems)), nil)
	}
	return items, nil
}

// ExtractObject normalizes raw and decodes a single nested record. The
// schema, if given, is a JSON schema document as a Go value; check runs after
// decoding and may normalize the value.
func ExtractObject[T any](raw string, schema map[string]any, check func(*T) error) (T, error) {
	var out T

	doc, err := decodable(raw)
	if err != nil {
		return out, err
	}

	if schema != nil {
		compiled, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(schema))
		if err != nil {
			return out, fmt.Errorf("compile object schema: %w", err)
		}
		if err := checkSchema(compiled, doc, "object"); err != nil {
			return out, err
		}
	}

	if err := json.Unmarshal([]byte(doc), &out); err != nil {
		return out, apperr.New(apperr.KindMalformedResponseShape, "decode object", err)
	}
	if check != nil {
		if err := check(&out); err != nil {
			return out, err
		}
	}
	return out, nil
}

// DecodeList decodes a nested array field of a record one element at a time,
// so a malformed element costs only itself. A missing or null field yields
// no items; a field that is not an array is reported to onDrop with index -1.
func DecodeList[I any](field json.RawMessage, accept func(*I) bool, onDrop func(index int, reason string)) []I {
	trimmed := strings.TrimSpace(string(field))
	if trimmed == "" || trimmed == "null" {
		return nil
	}
	var elems []json.RawMessage
	if err := json.Unmarshal(field, &elems); err != nil {
		if onDrop != nil {
			onDrop(-1, "not an array")
		}
		return nil
	}
	return decodeElems(elems, accept, onDrop)
}

// NonEmptyString trims s in place and rejects blanks. It is meant as the
// accept func for DecodeList[string].
func NonEmptyString(s *string) bool {
	*s = strings.TrimSpace(*s)
	return *s != ""
}

func decodeElems[I any](elems []json.RawMessage, accept func(*I) bool, onDrop func(int, string)) []I {
	drop := func(i int, reason string) {
		if onDrop != nil {
			onDrop(i, reason)
		}
	}
	items := make([]I, 0, len(elems))
	for i, elem := range elems {
		var item I
		if err := json.Unmarshal(elem, &item); err != nil {
			drop(i, err.Error())
			continue
		}
		if accept != nil && !accept(&item) {
			drop(i, "incomplete")
			continue
		}
		items = append(items, item)
	}
	return items
}

func decodable(raw string) (string, error) {
	doc, err := Normalize(raw)
	if err != nil {
		return "", err
	}
	var probe any
	if err := json.Unmarshal([]byte(doc), &probe); err != nil {
		return "", apperr.New(apperr.KindParseFailure, "invalid JSON after normalization", err)
	}
	return doc, nil
}

func checkSchema(schema *gojsonschema.Schema, doc, label string) error {
	result, err := schema.Validate(gojsonschema.NewStringLoader(doc))
	if err != nil {
		return apperr.New(apperr.KindParseFailure, "load "+label, err)
	}
	if result.Valid() {
		return nil
	}
	msgs := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		msgs = append(msgs, desc.String())
	}
	return apperr.New(apperr.KindMalformedResponseShape,
		fmt.Sprintf("unexpected %s shape: %s", label, strings.Join(msgs, "; ")), nil)
}

func (s Shape[I]) label() string {
	if s.Name != "" {
		return s.Name
	}
	if s.Field != "" {
		return s.Field
	}
	return "items"
}

func (s Shape[I]) drop(index int, reason string) {
	if s.OnDrop != nil {
		s.OnDrop(index, reason)
	}
}

package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/xeipuuv/gojsonschema"
)

const maxBodyBytes = 8 << 20

var (
	anonymizeSchema = mustSchema(`{
		"type": "object",
		"required": ["text"],
		"properties": {
			"text": {"type": "string"}
		}
	}`)

	analyzeSchema = mustSchema(`{
		"type": "object",
		"required": ["text"],
		"properties": {
			"text": {"type": "string"},
			"entities": {"type": "array", "items": {"type": "string"}},
			"score_threshold": {"type": "number", "minimum": 0, "maximum": 1}
		}
	}`)

	reloadSchema = mustSchema(`{
		"type": "object",
		"properties": {
			"directory": {"type": "string", "minLength": 1}
		}
	}`)
)

// validationIssue is one entry of a 422 detail list.
type validationIssue struct {
	Loc  []any  `json:"loc"`
	Msg  string `json:"msg"`
	Type string `json:"type"`
}

func mustSchema(src string) *gojsonschema.Schema {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(src))
	if err != nil {
		panic(fmt.Sprintf("invalid request schema: %v", err))
	}
	return schema
}

// decodeBody reads the request body, validates it against schema and
// unmarshals it into dst. A non-nil issue list means the body was rejected.
// When allowEmpty is set an empty body is treated as {}.
func decodeBody(w http.ResponseWriter, r *http.Request, schema *gojsonschema.Schema, dst any, allowEmpty bool) ([]validationIssue, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return []validationIssue{{
				Loc:  []any{"body"},
				Msg:  fmt.Sprintf("Request body exceeds %d bytes", tooLarge.Limit),
				Type: "body_too_large",
			}}, nil
		}
		return nil, fmt.Errorf("failed to read request body: %w", err)
	}
	if len(body) == 0 && allowEmpty {
		body = []byte("{}")
	}

	if !json.Valid(body) {
		return []validationIssue{{
			Loc:  []any{"body", 0},
			Msg:  "JSON decode error",
			Type: "json_invalid",
		}}, nil
	}

	result, err := schema.Validate(gojsonschema.NewBytesLoader(body))
	if err != nil {
		return nil, fmt.Errorf("schema validation error: %w", err)
	}
	if !result.Valid() {
		issues := make([]validationIssue, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			issues = append(issues, toIssue(desc))
		}
		return issues, nil
	}

	if err := json.Unmarshal(body, dst); err != nil {
		return nil, fmt.Errorf("failed to decode request body: %w", err)
	}
	return nil, nil
}

// toIssue renders a schema error the way the Python service reported
// request validation errors.
func toIssue(desc gojsonschema.ResultError) validationIssue {
	loc := []any{"body"}
	field := desc.Field()
	if field != gojsonschema.STRING_ROOT_SCHEMA_PROPERTY {
		loc = append(loc, field)
	}

	switch desc.Type() {
	case "required":
		if property, ok := desc.Details()["property"].(string); ok {
			loc = []any{"body", property}
		}
		return validationIssue{Loc: loc, Msg: "Field required", Type: "missing"}
	case "invalid_type":
		expected, _ := desc.Details()["expected"].(string)
		if field == gojsonschema.STRING_ROOT_SCHEMA_PROPERTY {
			return validationIssue{Loc: loc, Msg: "Input should be a valid dictionary or object to extract fields from", Type: "model_attributes_type"}
		}
		switch expected {
		case gojsonschema.TYPE_STRING:
			return validationIssue{Loc: loc, Msg: "Input should be a valid string", Type: "string_type"}
		case gojsonschema.TYPE_ARRAY:
			return validationIssue{Loc: loc, Msg: "Input should be a valid list", Type: "list_type"}
		case gojsonschema.TYPE_NUMBER:
			return validationIssue{Loc: loc, Msg: "Input should be a valid number", Type: "float_type"}
		}
	}
	return validationIssue{Loc: loc, Msg: desc.Description(), Type: desc.Type()}
}

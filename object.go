package zenllm

import (
	"context"
	"encoding/json"
	"reflect"
	"strings"

	"github.com/invopop/jsonschema"
)

// SchemaFor derives a JSON schema for a Go type, suitable for
// ResponseFormat.JSONSchema. The schema is inlined with no $ref
// indirection and forbids additional properties, which is what the
// strict structured-output modes require.
func SchemaFor(v interface{}) (map[string]interface{}, error) {
	reflector := jsonschema.Reflector{
		DoNotReference:            true,
		AllowAdditionalProperties: false,
	}
	schema := reflector.Reflect(v)
	schema.Version = ""

	raw, err := json.Marshal(schema)
	if err != nil {
		return nil, &SDKError{Message: "marshaling derived schema", Cause: err}
	}
	var out map[string]interface{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, &SDKError{Message: "decoding derived schema", Cause: err}
	}
	return out, nil
}

// GenerateObject runs a single-turn call constrained to return JSON matching
// the schema derived from T, and decodes the result. The Response is also
// returned so callers can inspect usage and cost. Any ResponseFormat in opts
// is replaced.
func GenerateObject[T any](ctx context.Context, c *Client, opts GenerateOptions) (T, *Response, error) {
	var out T

	schema, err := SchemaFor(&out)
	if err != nil {
		return out, nil, err
	}
	opts.ResponseFormat = &ResponseFormat{
		Type:       "json_schema",
		Name:       schemaName(reflect.TypeOf(out)),
		JSONSchema: schema,
		Strict:     true,
	}

	resp, err := c.Generate(ctx, opts)
	if err != nil {
		return out, nil, err
	}

	text := stripJSONFences(resp.Text())
	if err := json.Unmarshal([]byte(text), &out); err != nil {
		return out, resp, &SDKError{Message: "response is not valid JSON for the requested type", Cause: err}
	}
	return out, resp, nil
}

func schemaName(t reflect.Type) string {
	for t != nil && t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t == nil || t.Name() == "" {
		return "response"
	}
	return strings.ToLower(t.Name())
}

// stripJSONFences removes a markdown code fence around a JSON payload. Some
// models wrap structured output in ```json fences even when a schema was
// requested.
func stripJSONFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.Index(s, "\n"); i >= 0 {
		s = s[i+1:]
	}
	if i := strings.LastIndex(s, "```"); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}

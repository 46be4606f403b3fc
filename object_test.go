package zenllm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recipe struct {
	Name     string   `json:"name"`
	Servings int      `json:"servings"`
	Steps    []string `json:"steps"`
}

func TestSchemaFor(t *testing.T) {
	schema, err := SchemaFor(&recipe{})
	require.NoError(t, err)

	assert.Equal(t, "object", schema["type"])
	props, ok := schema["properties"].(map[string]interface{})
	require.True(t, ok)
	assert.Contains(t, props, "name")
	assert.Contains(t, props, "servings")
	assert.Contains(t, props, "steps")
	assert.Equal(t, false, schema["additionalProperties"])
}

func TestGenerateObject(t *testing.T) {
	adapter := &recordingAdapter{
		name: "openai",
		complete: func(req Request) (*Response, error) {
			return &Response{
				Message: AssistantMessage(`{"name":"Toast","servings":1,"steps":["toast bread"]}`),
			}, nil
		},
	}
	client := NewClient(WithProvider("openai", adapter))

	out, resp, err := GenerateObject[recipe](context.Background(), client, GenerateOptions{
		Model:  "gpt-5",
		Prompt: "a trivial recipe",
	})

	require.NoError(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, "Toast", out.Name)
	assert.Equal(t, 1, out.Servings)
	assert.Equal(t, []string{"toast bread"}, out.Steps)

	// The request carried a strict schema response format.
	require.Len(t, adapter.requests, 1)
	rf := adapter.requests[0].ResponseFormat
	require.NotNil(t, rf)
	assert.Equal(t, "json_schema", rf.Type)
	assert.Equal(t, "recipe", rf.Name)
	assert.True(t, rf.Strict)
	assert.NotEmpty(t, rf.JSONSchema)
}

func TestGenerateObjectFencedOutput(t *testing.T) {
	adapter := &recordingAdapter{
		name: "openai",
		complete: func(req Request) (*Response, error) {
			return &Response{
				Message: AssistantMessage("```json\n{\"name\":\"Toast\",\"servings\":2,\"steps\":[]}\n```"),
			}, nil
		},
	}
	client := NewClient(WithProvider("openai", adapter))

	out, _, err := GenerateObject[recipe](context.Background(), client, GenerateOptions{
		Model:  "gpt-5",
		Prompt: "a trivial recipe",
	})

	require.NoError(t, err)
	assert.Equal(t, 2, out.Servings)
}

func TestGenerateObjectInvalidJSON(t *testing.T) {
	adapter := &recordingAdapter{
		name: "openai",
		complete: func(req Request) (*Response, error) {
			return &Response{Message: AssistantMessage("not json at all")}, nil
		},
	}
	client := NewClient(WithProvider("openai", adapter))

	_, resp, err := GenerateObject[recipe](context.Background(), client, GenerateOptions{
		Model:  "gpt-5",
		Prompt: "a trivial recipe",
	})

	require.Error(t, err)
	// The raw response is still returned for inspection.
	require.NotNil(t, resp)
}

func TestStripJSONFences(t *testing.T) {
	assert.Equal(t, `{"a":1}`, stripJSONFences(`{"a":1}`))
	assert.Equal(t, `{"a":1}`, stripJSONFences("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, stripJSONFences("```\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, stripJSONFences("  {\"a\":1}  "))
}

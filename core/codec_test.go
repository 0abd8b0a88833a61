package core

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContent_JSONKeepsPartTypes(t *testing.T) {
	c := Content{
		Role: "assistant",
		Parts: []Part{
			TextPart{Text: "see attached"},
			DataPart{Data: map[string]any{"n": float64(3)}},
			FilePart{Name: "chart.png", MimeType: "image/png", URI: "artifact://chart.png"},
			FunctionCallPart{FunctionCall: FunctionCall{ID: "c1", Name: "lookup", Arguments: `{}`}},
			FunctionResponsePart{FunctionResponse: FunctionResponse{ID: "c1", Name: "lookup", Response: "ok"}},
		},
	}

	b, err := json.Marshal(c)
	require.NoError(t, err)

	var got Content
	require.NoError(t, json.Unmarshal(b, &got))
	assert.Equal(t, c, got)
}

func TestContent_UnmarshalRejectsUnknownKind(t *testing.T) {
	var c Content
	err := json.Unmarshal([]byte(`{"role":"user","parts":[{"kind":"video"}]}`), &c)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "video")
}

func TestContent_UnmarshalRejectsEmptyCall(t *testing.T) {
	var c Content
	err := json.Unmarshal([]byte(`{"parts":[{"kind":"function_call"}]}`), &c)
	assert.Error(t, err)
}

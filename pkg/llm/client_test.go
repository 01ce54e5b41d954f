package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name  string
		reply string
		want  string
	}{
		{
			"bare json",
			`{"matched_index": 1, "confidence": 0.9}`,
			`{"matched_index": 1, "confidence": 0.9}`,
		},
		{
			"json fence",
			"```json\n{\"matched_index\": 1}\n```",
			`{"matched_index": 1}`,
		},
		{
			"plain fence",
			"```\n{\"a\": 1}\n```",
			`{"a": 1}`,
		},
		{
			"prose around object",
			"Sure, here is the result: {\"a\": 1}. Let me know if you need more.",
			`{"a": 1}`,
		},
		{
			"fence with trailing prose",
			"```json\n{\"a\": 1}\n```\nHope that helps!",
			`{"a": 1}`,
		},
		{
			"surrounding whitespace",
			"  \n {\"a\": 1} \n ",
			`{"a": 1}`,
		},
		{
			"no json at all",
			"I cannot help with that.",
			"I cannot help with that.",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractJSON(tt.reply))
		})
	}
}

func TestNewOpenAIClientRequiresModel(t *testing.T) {
	_, err := NewOpenAIClient(OpenAIConfig{})
	assert.Error(t, err)

	c, err := NewOpenAIClient(OpenAIConfig{Model: "qwen-max", BaseURL: "http://localhost:8000/v1"})
	assert.NoError(t, err)
	assert.NotNil(t, c)
}

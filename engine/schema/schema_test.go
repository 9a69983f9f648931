package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchema_Validate(t *testing.T) {
	t.Run("Should validate a nested connector config schema", func(t *testing.T) {
		s := &Schema{
			"type": "object",
			"properties": map[string]any{
				"oauth": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"clientId":     map[string]any{"type": "string"},
						"clientSecret": map[string]any{"type": "string"},
					},
					"required": []string{"clientId", "clientSecret"},
				},
			},
			"required": []string{"oauth"},
		}
		value := map[string]any{
			"oauth": map[string]any{"clientId": "abc", "clientSecret": "def"},
		}

		result, err := s.Validate(t.Context(), value)
		require.NoError(t, err)
		assert.True(t, result.Valid)
	})

	t.Run("Should fail when a required field is missing", func(t *testing.T) {
		s := &Schema{
			"type":       "object",
			"properties": map[string]any{"name": map[string]any{"type": "string"}},
			"required":   []string{"name"},
		}
		result, err := s.Validate(t.Context(), map[string]any{})
		require.Error(t, err)
		assert.Nil(t, result)
		assert.ErrorContains(t, err, "schema validation failed")
	})

	t.Run("Should allow a nil schema to pass anything", func(t *testing.T) {
		var s *Schema
		result, err := s.Validate(t.Context(), map[string]any{"anything": true})
		require.NoError(t, err)
		assert.Nil(t, result)
	})
}

func TestSchema_ApplyDefaults(t *testing.T) {
	t.Run("Should fill in defaults for missing keys without touching user values", func(t *testing.T) {
		s := &Schema{
			"type": "object",
			"properties": map[string]any{
				"timeout": map[string]any{"type": "number", "default": 30},
				"retries": map[string]any{"type": "integer", "default": 3},
			},
		}
		result, err := s.ApplyDefaults(map[string]any{"timeout": 60})
		require.NoError(t, err)
		assert.Equal(t, 60, result["timeout"])
		assert.Equal(t, 3, result["retries"])
	})

	t.Run("Should return input unchanged when schema is nil", func(t *testing.T) {
		var s *Schema
		input := map[string]any{"field": "value"}
		result, err := s.ApplyDefaults(input)
		require.NoError(t, err)
		assert.Equal(t, input, result)
	})

	t.Run("Should build a full object from defaults when input is nil", func(t *testing.T) {
		s := &Schema{
			"type": "object",
			"properties": map[string]any{
				"queueName": map[string]any{"type": "string", "default": "default-queue"},
			},
		}
		result, err := s.ApplyDefaults(nil)
		require.NoError(t, err)
		assert.Equal(t, "default-queue", result["queueName"])
	})
}

func TestSchema_Compile(t *testing.T) {
	t.Run("Should compile a valid schema", func(t *testing.T) {
		s := &Schema{"type": "object"}
		compiled, err := s.Compile()
		require.NoError(t, err)
		assert.NotNil(t, compiled)
	})

	t.Run("Should return nil for a nil schema", func(t *testing.T) {
		var s *Schema
		compiled, err := s.Compile()
		require.NoError(t, err)
		assert.Nil(t, compiled)
	})
}

package outscraper

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	t.Run("error envelope", func(t *testing.T) {
		_, err := Validate(json.RawMessage(`{"error": true, "errorMessage": "quota exceeded", "id": "ignored"}`))

		var apiErr *APIError
		require.True(t, errors.As(err, &apiErr))
		assert.Equal(t, "quota exceeded", apiErr.Message)
		assert.Equal(t, "quota exceeded", err.Error())
	})

	passThrough := []string{
		`{"error": false, "data": [1]}`,
		`{"data": [1]}`,
		`{"error": "not a flag"}`,
		`[{"error": true}]`,
		`"plain"`,
		`null`,
	}
	for _, in := range passThrough {
		got, err := Validate(json.RawMessage(in))
		require.NoError(t, err, in)
		assert.Equal(t, in, string(got))
	}
}

func TestDecodeTask(t *testing.T) {
	task, err := DecodeTask(json.RawMessage(`{"id": "a-1", "status": "Pending"}`))
	require.NoError(t, err)
	assert.Equal(t, "a-1", task.ID)
	assert.True(t, task.Pending())

	task, err = DecodeTask(json.RawMessage(`{"id": 42, "status": "Success", "data": {"k": 1}}`))
	require.NoError(t, err)
	assert.Equal(t, "42", task.ID)
	assert.False(t, task.Pending())
	assert.JSONEq(t, `{"k": 1}`, string(task.Data))

	task, err = DecodeTask(json.RawMessage(`[1, 2]`))
	require.NoError(t, err)
	assert.Empty(t, task.ID)
	assert.False(t, task.Pending())

	task, err = DecodeTask(json.RawMessage(`{"status": null}`))
	require.NoError(t, err)
	assert.False(t, task.Pending())
}

func TestExtractData(t *testing.T) {
	got, err := ExtractData(json.RawMessage(`{"id": "x", "data": [[1]]}`))
	require.NoError(t, err)
	assert.JSONEq(t, `[[1]]`, string(got))

	got, err = ExtractData(json.RawMessage(`{"id": "x"}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"id": "x"}`, string(got))

	got, err = ExtractData(json.RawMessage(`[1]`))
	require.NoError(t, err)
	assert.Equal(t, `[1]`, string(got))
}

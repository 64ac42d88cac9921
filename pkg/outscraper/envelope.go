package outscraper

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// StatusPending is the archive status of a task that has not finished yet.
const StatusPending = "Pending"

type errorEnvelope struct {
	Error        bool   `json:"error"`
	ErrorMessage string `json:"errorMessage"`
}

// Validate passes raw through unless it is an object flagged with
// "error": true, in which case the service's errorMessage is returned as an
// *APIError verbatim.
func Validate(raw json.RawMessage) (json.RawMessage, error) {
	if !isObject(raw) {
		return raw, nil
	}

	var env errorEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		// "error" present but not a boolean: not the service's error flag.
		return raw, nil
	}
	if env.Error {
		return nil, &APIError{Message: env.ErrorMessage}
	}
	return raw, nil
}

// Task is the decoded view of a submission or archive response.
type Task struct {
	ID     string          `json:"id"`
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// Pending reports whether the task is still waiting to be archived.
func (t *Task) Pending() bool {
	return t.Status == StatusPending
}

// DecodeTask reads the id/status/data fields out of raw. Non-object payloads
// decode into an empty Task.
func DecodeTask(raw json.RawMessage) (*Task, error) {
	var t Task
	if !isObject(raw) {
		return &t, nil
	}
	var fields struct {
		ID     json.RawMessage `json:"id"`
		Status json.RawMessage `json:"status"`
		Data   json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("decode task: %w", err)
	}
	t.ID = scalarString(fields.ID)
	t.Status = scalarString(fields.Status)
	t.Data = fields.Data
	return &t, nil
}

// ExtractData returns the "data" field of an object payload, or raw itself
// when there is none.
func ExtractData(raw json.RawMessage) (json.RawMessage, error) {
	if !isObject(raw) {
		return raw, nil
	}
	var fields struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("decode data: %w", err)
	}
	if fields.Data == nil {
		return raw, nil
	}
	return fields.Data, nil
}

func isObject(raw json.RawMessage) bool {
	trimmed := bytes.TrimLeft(raw, " \t\r\n")
	return len(trimmed) > 0 && trimmed[0] == '{'
}

// scalarString renders a JSON string or number as text; anything else is "".
func scalarString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}

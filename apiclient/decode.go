package apiclient

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// errorBody is the error envelope the backend uses: {"detail": "..."}.
// Detail stays raw because the backend also sends validation lists there.
type errorBody struct {
	Detail json.RawMessage `json:"detail"`
}

// decodeOrEmpty decodes a failed response body, falling back to an empty
// errorBody when the body is not a JSON object.
func decodeOrEmpty(body []byte) errorBody {
	var out errorBody
	if err := json.Unmarshal(body, &out); err != nil {
		return errorBody{}
	}
	return out
}

// errorMessage returns detail when it is a non-empty string and the generic message otherwise.
func errorMessage(body errorBody) string {
	var detail string
	if len(body.Detail) == 0 || json.Unmarshal(body.Detail, &detail) != nil || detail == "" {
		return GenericFailureMessage
	}
	return detail
}

// decodeJSON decodes a success body into a generic value.
func decodeJSON(body []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var out any
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response body: %w", err)
	}
	// Anything but EOF after the value, stray closing brackets included, is malformed.
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode response body: trailing data")
	}
	return out, nil
}

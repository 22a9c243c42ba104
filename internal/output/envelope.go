package output

import "encoding/json"

// Result is the envelope returned by every tool invocation.
// Error is null on success; Data is null on failure.
type Result struct {
	Success bool    `json:"success"`
	Data    any     `json:"data"`
	Message string  `json:"message"`
	Error   *string `json:"error"`
}

// OK builds a success envelope.
func OK(data any, message string) *Result {
	return &Result{
		Success: true,
		Data:    data,
		Message: message,
	}
}

// Err builds a failure envelope from a structured error.
// The message summarizes what was being attempted; the error field carries detail.
func Err(err error, message string) *Result {
	e := AsError(err)
	detail := e.Error()
	return &Result{
		Success: false,
		Message: message,
		Error:   &detail,
	}
}

// JSON renders the envelope as indented JSON for the tool result payload.
func (r *Result) JSON() (string, error) {
	b, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	return string(b), nil
}

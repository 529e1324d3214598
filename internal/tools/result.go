package tools

import (
	"encoding/json"
	"fmt"

	"github.com/icotes/agenthub/pkg/protocol"
)

// Result is the unified return type from tool execution.
type Result struct {
	Success bool                   `json:"success"`
	Data    interface{}            `json:"data,omitempty"`
	Error   string                 `json:"error,omitempty"`
	Code    protocol.ErrorCode     `json:"error_code,omitempty"`
	Meta    map[string]interface{} `json:"metadata,omitempty"`
}

func Ok(data interface{}) *Result {
	return &Result{Success: true, Data: data}
}

func Fail(code protocol.ErrorCode, format string, args ...interface{}) *Result {
	return &Result{Success: false, Error: fmt.Sprintf(format, args...), Code: code}
}

// FailErr wraps an internal error without leaking paths or provider bodies.
func FailErr(code protocol.ErrorCode, msg string, err error) *Result {
	return &Result{Success: false, Error: fmt.Sprintf("%s: %v", msg, err), Code: code}
}

// ForModel renders the result as the JSON document fed back to the model
// after a tool call.
func (r *Result) ForModel() string {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Sprintf(`{"success":false,"error":"unencodable result: %v"}`, err)
	}
	return string(data)
}

func (r *Result) WithMeta(key string, value interface{}) *Result {
	if r.Meta == nil {
		r.Meta = make(map[string]interface{})
	}
	r.Meta[key] = value
	return r
}

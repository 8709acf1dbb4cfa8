package actions

import (
	"encoding/json"

	"github.com/basket/asis/internal/shared"
)

// Result is what every dispatch returns. Fields carries the action-specific
// keys (task_id, full_list, events, ...) and is flattened on the wire next
// to success, message and error.
type Result struct {
	Success   bool
	Action    string
	Message   string
	Error     string
	ErrorKind shared.ErrorKind
	Fields    map[string]any
}

func success(action, message string) Result {
	return Result{Success: true, Action: action, Message: message, Fields: map[string]any{}}
}

// With sets an action-specific field and returns r for chaining.
func (r Result) With(key string, v any) Result {
	if r.Fields == nil {
		r.Fields = map[string]any{}
	}
	r.Fields[key] = v
	return r
}

// Get returns an action-specific field.
func (r Result) Get(key string) any {
	return r.Fields[key]
}

func failure(err error) Result {
	kind := shared.KindOf(err)
	return Result{Success: false, Error: err.Error(), ErrorKind: kind}
}

func (r Result) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, len(r.Fields)+5)
	for k, v := range r.Fields {
		m[k] = v
	}
	m["success"] = r.Success
	if r.Action != "" {
		m["action"] = r.Action
	}
	if r.Message != "" {
		m["message"] = r.Message
	}
	if !r.Success {
		m["error"] = r.Error
		if r.ErrorKind != "" {
			m["error_kind"] = r.ErrorKind
		}
	}
	return json.Marshal(m)
}

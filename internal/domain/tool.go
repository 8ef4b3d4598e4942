package domain

import (
	"context"
	"fmt"
)

// ToolName identifies one of the closed set of tools the dispatcher knows about.
type ToolName string

const (
	ToolSearch    ToolName = "search"
	ToolCalculate ToolName = "calculate"
	ToolWeather   ToolName = "weather"
	ToolNews      ToolName = "news"
	ToolHeadlines ToolName = "headlines"
)

// KnownTools lists every tool name in registration order.
var KnownTools = []ToolName{ToolSearch, ToolCalculate, ToolWeather, ToolNews, ToolHeadlines}

// Params is the parameter bag of a tool call, decoded from JSON.
type Params map[string]any

// Handler is implemented by every tool (search, math, weather, news).
//
// Handle returns a Failure Result for conditions the handler understands
// (missing input, missing credentials, non-OK upstream status) and a plain
// error for unexpected faults; the dispatcher turns the latter into a Failure.
type Handler interface {
	Name() ToolName
	Description() string
	Parameters() map[string]any
	Handle(ctx context.Context, params Params) (Result, error)
}

// ToolDefinition describes a registered tool for listings.
type ToolDefinition struct {
	Name        ToolName       `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// ErrorKind classifies a Failure so operators can tell bad input from
// misconfiguration and upstream trouble.
type ErrorKind string

const (
	KindInput    ErrorKind = "input"
	KindUpstream ErrorKind = "upstream"
	KindConfig   ErrorKind = "config"
	KindInternal ErrorKind = "internal"
)

// SourceLocal marks a math result computed in-process.
const SourceLocal = "local"

// Result is the outcome of a tool call: either Success (Data, SourceHint)
// or Failure (Error, Code, Kind).
type Result struct {
	Status     Status
	Data       map[string]any
	SourceHint string

	Error string
	Code  int
	Kind  ErrorKind
}

func Success(data map[string]any) Result {
	if data == nil {
		data = map[string]any{}
	}
	return Result{Status: StatusSuccess, Data: data}
}

func Failure(kind ErrorKind, code int, format string, args ...any) Result {
	return Result{
		Status: StatusError,
		Error:  fmt.Sprintf(format, args...),
		Code:   code,
		Kind:   kind,
	}
}

// WithSource returns a copy of r carrying a source hint.
func (r Result) WithSource(hint string) Result {
	r.SourceHint = hint
	return r
}

func (r Result) OK() bool { return r.Status == StatusSuccess }

// Envelope renders the outer JSON object. Handler data keys are kept as-is;
// status, sourceHint, error, code and kind are owned by the envelope.
func (r Result) Envelope() map[string]any {
	env := make(map[string]any, len(r.Data)+4)
	for k, v := range r.Data {
		env[k] = v
	}
	if r.OK() {
		env["status"] = string(StatusSuccess)
		if r.SourceHint != "" {
			env["sourceHint"] = r.SourceHint
		}
		return env
	}
	env["status"] = string(StatusError)
	env["error"] = r.Error
	if r.Code != 0 {
		env["code"] = r.Code
	}
	if r.Kind != "" {
		env["kind"] = string(r.Kind)
	}
	return env
}

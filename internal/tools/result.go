package tools

import (
	"strings"

	"github.com/nextlevelbuilder/minds/pkg/protocol"
)

// Result is the unified return type from tool execution. ForLLM is the
// string re-injected into the conversation; the first line carries the
// error marker when IsError is set.
type Result struct {
	ForLLM  string `json:"for_llm"`
	IsError bool   `json:"is_error"`
}

func NewResult(forLLM string) *Result {
	return &Result{ForLLM: forLLM}
}

// ExecErrorResult wraps a recoverable execution failure in the
// ERR_TOOL_EXECUTION protocol.
func ExecErrorResult(detail string) *Result {
	return &Result{
		ForLLM:  protocol.ErrToolExecution + "\n" + detail,
		IsError: true,
	}
}

// UnknownCallResult reports an unregistered callsign.
func UnknownCallResult(name string) *Result {
	return &Result{
		ForLLM:  protocol.ErrUnknownCall + "\nno tool or teammate named " + name,
		IsError: true,
	}
}

// MutexBusyResult reports a topical teammate already driven elsewhere.
func MutexBusyResult(agentID, topicID string) *Result {
	return &Result{
		ForLLM:  protocol.ErrMutexBusy + "\n" + agentID + "!" + topicID + " is locked by another driver",
		IsError: true,
	}
}

// ErrorMarker extracts the protocol marker from a result string, or ""
// when the result is not a tool-style error.
func ErrorMarker(forLLM string) string {
	first, _, _ := strings.Cut(forLLM, "\n")
	switch first {
	case protocol.ErrUnknownCall, protocol.ErrToolExecution, protocol.ErrMutexBusy:
		return first
	}
	return ""
}

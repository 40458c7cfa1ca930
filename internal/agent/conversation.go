package agent

import (
	"context"
	"encoding/json"
	"errors"
	"iter"
	"slices"

	"github.com/aezell/perfrev/internal/diff"
	"github.com/aezell/perfrev/internal/tools"
)

// Role identifies who produced a conversation entry.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall is a model's request to invoke a tool.
type ToolCall struct {
	ID   string          `json:"id"`
	Name string          `json:"name"`
	Args json.RawMessage `json:"args"`
}

// ToolResult is the outcome of one ToolCall. Exactly one of Output and Err
// is set.
type ToolResult struct {
	CallID string          `json:"callId"`
	Name   string          `json:"name"`
	Output json.RawMessage `json:"output,omitempty"`
	Err    error           `json:"-"`

	reportPath string
}

// Error kinds reported to the model.
const (
	ErrorKindValidation        = "validation"
	ErrorKindDirectoryNotFound = "directory_not_found"
	ErrorKindTimeout           = "timeout"
	ErrorKindExecution         = "execution"
)

// Content returns what the model sees for r: the tool output, or an
// {"error":{"kind","message"}} object.
func (r ToolResult) Content() json.RawMessage {
	if r.Err == nil {
		if r.Output == nil {
			return json.RawMessage("null")
		}
		return r.Output
	}
	b, _ := json.Marshal(map[string]any{
		"error": map[string]string{
			"kind":    ErrorKind(r.Err),
			"message": r.Err.Error(),
		},
	})
	return b
}

// MarshalJSON includes the error payload for failed results.
func (r ToolResult) MarshalJSON() ([]byte, error) {
	type plain struct {
		CallID string          `json:"callId"`
		Name   string          `json:"name"`
		Output json.RawMessage `json:"output"`
	}
	return json.Marshal(plain{CallID: r.CallID, Name: r.Name, Output: r.Content()})
}

// ErrorKind classifies a tool error for the model.
func ErrorKind(err error) string {
	var ve *tools.ValidationError
	var nf *diff.DirectoryNotFoundError
	switch {
	case errors.As(err, &ve):
		return ErrorKindValidation
	case errors.As(err, &nf):
		return ErrorKindDirectoryNotFound
	case errors.Is(err, context.DeadlineExceeded):
		return ErrorKindTimeout
	default:
		return ErrorKindExecution
	}
}

// Entry is one record in the conversation log.
type Entry struct {
	Step    int          `json:"step"`
	Role    Role         `json:"role"`
	Text    string       `json:"text,omitempty"`
	Calls   []ToolCall   `json:"calls,omitempty"`
	Results []ToolResult `json:"results,omitempty"`
}

// Conversation is the append-only log of a run. Entries are never changed
// once appended.
type Conversation struct {
	entries []Entry
}

func (c *Conversation) append(e Entry) {
	c.entries = append(c.entries, e)
}

// Entries returns a copy of the log.
func (c *Conversation) Entries() []Entry {
	return slices.Clone(c.entries)
}

// Step returns the entries recorded during step n. Step 0 holds the system
// instruction and the user request.
func (c *Conversation) Step(n int) []Entry {
	var out []Entry
	for _, e := range c.entries {
		if e.Step == n {
			out = append(out, e)
		}
	}
	return out
}

// Len returns the number of entries.
func (c *Conversation) Len() int { return len(c.entries) }

// Event is produced by a model step: a TextFragment or a ToolCallBatch.
type Event interface {
	event()
}

// TextFragment is a piece of streamed assistant text.
type TextFragment struct {
	Text string
}

// ToolCallBatch carries the tool calls the model wants run.
type ToolCallBatch struct {
	Calls []ToolCall
}

func (TextFragment) event()  {}
func (ToolCallBatch) event() {}

// Request is what the loop submits to the model for one step.
type Request struct {
	System   string
	Entries  []Entry
	Tools    []tools.Spec
	MaxSteps int
	Step     int
}

// Model produces the events of one step. The sequence ends when the step
// is complete; a non-nil error ends it early.
type Model interface {
	Step(ctx context.Context, req Request) iter.Seq2[Event, error]
}

// Package agent runs the review loop: it alternates model steps with tool
// dispatch until the model answers without calling tools or the step
// ceiling is reached.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/aezell/perfrev/internal/diff"
	"github.com/aezell/perfrev/internal/tools"
)

// Defaults for Options.
const (
	DefaultMaxSteps    = 10
	DefaultStepTimeout = 2 * time.Minute
	DefaultToolTimeout = 30 * time.Second
)

// StopReason records why a run ended.
type StopReason string

const (
	StopFinalAnswer StopReason = "final_answer"
	StopStepLimit   StopReason = "step_limit"
	StopCancelled   StopReason = "cancelled"
	StopError       StopReason = "error"
)

// Dispatcher validates and runs tool calls. *tools.Registry satisfies it.
type Dispatcher interface {
	Specs() []tools.Spec
	Call(ctx context.Context, name string, input json.RawMessage) (any, error)
}

// Hooks observe a run. They are called from the goroutine running Run.
type Hooks struct {
	OnText       func(step int, text string)
	OnToolCall   func(step int, call ToolCall)
	OnToolResult func(step int, result ToolResult)
	OnStep       func(step int, entry Entry)
}

// Options tunes an Agent.
type Options struct {
	MaxSteps    int
	StepTimeout time.Duration
	ToolTimeout time.Duration
	DiffOptions diff.Options
	Hooks       Hooks
	Logger      *slog.Logger
}

// Artifact is the outcome of a run.
type Artifact struct {
	// Text is the assistant text of every step, in order.
	Text string
	// ReportPath is the last report written by a tool, if any.
	ReportPath   string
	Steps        int
	Stop         StopReason
	Conversation *Conversation
}

// Agent drives a Model against a set of tools.
type Agent struct {
	model  Model
	tools  Dispatcher
	system string
	opts   Options
	log    *slog.Logger
}

// New returns an agent that prompts model with system and lets it call
// the tools in d.
func New(model Model, d Dispatcher, system string, opts Options) *Agent {
	if opts.MaxSteps <= 0 {
		opts.MaxSteps = DefaultMaxSteps
	}
	if opts.StepTimeout <= 0 {
		opts.StepTimeout = DefaultStepTimeout
	}
	if opts.ToolTimeout <= 0 {
		opts.ToolTimeout = DefaultToolTimeout
	}
	log := opts.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Agent{model: model, tools: d, system: system, opts: opts, log: log}
}

// Run reviews according to request. On cancellation or a model failure it
// returns the partial artifact together with the error. Reaching the step
// ceiling is not an error.
func (a *Agent) Run(ctx context.Context, request string) (*Artifact, error) {
	if diff.SnapshotFrom(ctx) == nil {
		ctx = diff.WithSnapshot(ctx, diff.NewSnapshot(a.opts.DiffOptions))
	}

	conv := &Conversation{}
	conv.append(Entry{Step: 0, Role: RoleSystem, Text: a.system})
	conv.append(Entry{Step: 0, Role: RoleUser, Text: request})

	art := &Artifact{Conversation: conv}
	var text []string
	specs := a.tools.Specs()

	for step := 1; step <= a.opts.MaxSteps; step++ {
		if err := ctx.Err(); err != nil {
			art.Stop = StopCancelled
			art.Text = strings.Join(text, "\n\n")
			return art, err
		}
		art.Steps = step
		a.log.Debug("model step", "step", step, "entries", conv.Len())

		entry, err := a.step(ctx, Request{
			System:   a.system,
			Entries:  conv.Entries(),
			Tools:    specs,
			MaxSteps: a.opts.MaxSteps,
			Step:     step,
		})
		if entry.Text != "" || len(entry.Calls) > 0 {
			conv.append(entry)
		}
		if entry.Text != "" {
			text = append(text, entry.Text)
		}
		art.Text = strings.Join(text, "\n\n")
		if err != nil {
			art.Stop = StopError
			if ctx.Err() != nil {
				art.Stop = StopCancelled
				return art, ctx.Err()
			}
			return art, fmt.Errorf("model step %d: %w", step, err)
		}
		a.notifyStep(step, entry)

		if len(entry.Calls) == 0 {
			art.Stop = StopFinalAnswer
			return art, nil
		}

		results := a.dispatch(ctx, step, entry.Calls)
		toolEntry := Entry{Step: step, Role: RoleTool, Results: results}
		conv.append(toolEntry)
		for _, r := range results {
			if r.reportPath != "" {
				art.ReportPath = r.reportPath
			}
		}
		a.notifyStep(step, toolEntry)

		if step == 1 {
			if err := allDirectoryNotFound(results); err != nil {
				art.Stop = StopError
				return art, err
			}
		}
	}

	a.log.Info("step limit reached", "max_steps", a.opts.MaxSteps)
	art.Stop = StopStepLimit
	return art, nil
}

func (a *Agent) step(ctx context.Context, req Request) (Entry, error) {
	ctx, cancel := context.WithTimeout(ctx, a.opts.StepTimeout)
	defer cancel()

	entry := Entry{Step: req.Step, Role: RoleAssistant}
	var b strings.Builder
	for ev, err := range a.model.Step(ctx, req) {
		if err != nil {
			entry.Text = b.String()
			if errors.Is(ctx.Err(), context.DeadlineExceeded) && !errors.Is(err, context.DeadlineExceeded) {
				err = fmt.Errorf("%w: %w", err, context.DeadlineExceeded)
			}
			return entry, err
		}
		switch ev := ev.(type) {
		case TextFragment:
			if ev.Text == "" {
				continue
			}
			b.WriteString(ev.Text)
			if a.opts.Hooks.OnText != nil {
				a.opts.Hooks.OnText(req.Step, ev.Text)
			}
		case ToolCallBatch:
			entry.Calls = append(entry.Calls, ev.Calls...)
		}
	}
	entry.Text = b.String()
	for i := range entry.Calls {
		if entry.Calls[i].ID == "" {
			entry.Calls[i].ID = fmt.Sprintf("call_%d_%d", req.Step, i+1)
		}
	}
	return entry, nil
}

// dispatch runs sibling calls concurrently and returns their results in
// call order.
func (a *Agent) dispatch(ctx context.Context, step int, calls []ToolCall) []ToolResult {
	for _, c := range calls {
		a.log.Debug("tool call", "step", step, "tool", c.Name, "id", c.ID)
		if a.opts.Hooks.OnToolCall != nil {
			a.opts.Hooks.OnToolCall(step, c)
		}
	}

	results := make([]ToolResult, len(calls))
	var wg sync.WaitGroup
	for i, c := range calls {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = a.invoke(ctx, c)
		}()
	}
	wg.Wait()

	for _, r := range results {
		if r.Err != nil {
			a.log.Warn("tool failed", "step", step, "tool", r.Name, "err", r.Err)
		}
		if a.opts.Hooks.OnToolResult != nil {
			a.opts.Hooks.OnToolResult(step, r)
		}
	}
	return results
}

// invoke runs one call under the tool timeout. The call's context is
// detached from run cancellation; a handler that ignores it keeps running
// in the background after the timeout result is recorded.
func (a *Agent) invoke(ctx context.Context, call ToolCall) ToolResult {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.opts.ToolTimeout)
	defer cancel()

	done := make(chan ToolResult, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- ToolResult{CallID: call.ID, Name: call.Name, Err: &tools.ToolExecutionError{Tool: call.Name, Err: fmt.Errorf("panic: %v", p)}}
			}
		}()
		out, err := a.tools.Call(ctx, call.Name, call.Args)
		done <- newResult(call, out, err)
	}()

	select {
	case r := <-done:
		return r
	case <-ctx.Done():
		return ToolResult{
			CallID: call.ID,
			Name:   call.Name,
			Err: &tools.ToolExecutionError{
				Tool: call.Name,
				Err:  fmt.Errorf("timed out after %s: %w", a.opts.ToolTimeout, context.DeadlineExceeded),
			},
		}
	}
}

type reporter interface {
	ReportPath() string
}

func newResult(call ToolCall, out any, err error) ToolResult {
	r := ToolResult{CallID: call.ID, Name: call.Name}
	if err != nil {
		r.Err = err
		return r
	}
	b, err := json.Marshal(out)
	if err != nil {
		r.Err = &tools.ToolExecutionError{Tool: call.Name, Err: fmt.Errorf("encoding output: %w", err)}
		return r
	}
	r.Output = b
	if rep, ok := out.(reporter); ok {
		r.reportPath = rep.ReportPath()
	}
	return r
}

func allDirectoryNotFound(results []ToolResult) error {
	var first error
	for _, r := range results {
		var nf *diff.DirectoryNotFoundError
		if r.Err == nil || !errors.As(r.Err, &nf) {
			return nil
		}
		if first == nil {
			first = r.Err
		}
	}
	return first
}

func (a *Agent) notifyStep(step int, e Entry) {
	if a.opts.Hooks.OnStep != nil {
		a.opts.Hooks.OnStep(step, e)
	}
}

// Package llm connects the review loop to Gemini.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"net/http"
	"time"

	genai "google.golang.org/genai"

	"github.com/aezell/perfrev/internal/agent"
	"github.com/aezell/perfrev/internal/tools"
)

// DefaultModel is the Gemini model used when none is configured.
const DefaultModel = "gemini-2.5-flash"

// streamer is the slice of the genai client Gemini uses.
type streamer interface {
	GenerateContentStream(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) iter.Seq2[*genai.GenerateContentResponse, error]
}

// Config configures a Gemini model.
type Config struct {
	APIKey string
	Model  string
	// MaxRetries bounds retries of rate-limited or failed requests.
	MaxRetries int
	BaseDelay  time.Duration
	Logger     *slog.Logger
}

// Gemini implements agent.Model with streaming function calling.
type Gemini struct {
	models     streamer
	model      string
	maxRetries int
	baseDelay  time.Duration
	log        *slog.Logger
}

// NewGemini creates a client for the Gemini API.
func NewGemini(ctx context.Context, cfg Config) (*Gemini, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("missing API key: set GEMINI_API_KEY or GOOGLE_API_KEY")
	}
	cli, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: cfg.APIKey, Backend: genai.BackendGeminiAPI})
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}
	return newGemini(cli.Models, cfg), nil
}

func newGemini(s streamer, cfg Config) *Gemini {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 500 * time.Millisecond
	}
	log := cfg.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Gemini{models: s, model: cfg.Model, maxRetries: cfg.MaxRetries, baseDelay: cfg.BaseDelay, log: log}
}

// Name returns the provider and model.
func (g *Gemini) Name() string { return "gemini:" + g.model }

// Step streams one model turn. Retryable failures are retried with
// exponential backoff only until the first event has been yielded.
func (g *Gemini) Step(ctx context.Context, req agent.Request) iter.Seq2[agent.Event, error] {
	return func(yield func(agent.Event, error) bool) {
		contents, err := Contents(req.Entries)
		if err != nil {
			yield(nil, err)
			return
		}
		cfg := &genai.GenerateContentConfig{
			SystemInstruction: systemInstruction(req.System),
			Tools:             Declarations(req.Tools),
		}

		for attempt := 0; ; attempt++ {
			started := false
			var retryErr error
			for resp, err := range g.models.GenerateContentStream(ctx, g.model, contents, cfg) {
				if err != nil {
					if !started && attempt < g.maxRetries && retryable(err) {
						retryErr = err
						break
					}
					yield(nil, err)
					return
				}
				for _, ev := range events(resp) {
					started = true
					if !yield(ev, nil) {
						return
					}
				}
			}
			if retryErr == nil {
				return
			}

			delay := g.baseDelay * time.Duration(1<<attempt)
			g.log.Warn("retrying model request", "step", req.Step, "attempt", attempt+1, "delay", delay, "err", retryErr)
			select {
			case <-ctx.Done():
				yield(nil, ctx.Err())
				return
			case <-time.After(delay):
			}
		}
	}
}

func retryable(err error) bool {
	code := 0
	var ae genai.APIError
	var pae *genai.APIError
	switch {
	case errors.As(err, &ae):
		code = ae.Code
	case errors.As(err, &pae):
		code = pae.Code
	default:
		return false
	}
	return code == http.StatusTooManyRequests || code >= 500
}

func events(resp *genai.GenerateContentResponse) []agent.Event {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil
	}
	var out []agent.Event
	var calls []agent.ToolCall
	for _, p := range resp.Candidates[0].Content.Parts {
		switch {
		case p.FunctionCall != nil:
			args, err := json.Marshal(p.FunctionCall.Args)
			if err != nil || p.FunctionCall.Args == nil {
				args = json.RawMessage("{}")
			}
			calls = append(calls, agent.ToolCall{ID: p.FunctionCall.ID, Name: p.FunctionCall.Name, Args: args})
		case p.Text != "" && !p.Thought:
			out = append(out, agent.TextFragment{Text: p.Text})
		}
	}
	if len(calls) > 0 {
		out = append(out, agent.ToolCallBatch{Calls: calls})
	}
	return out
}

func systemInstruction(system string) *genai.Content {
	if system == "" {
		return nil
	}
	return &genai.Content{Parts: []*genai.Part{{Text: system}}}
}

// Contents converts the conversation log into Gemini contents. System
// entries are skipped; they travel as the system instruction.
func Contents(entries []agent.Entry) ([]*genai.Content, error) {
	var out []*genai.Content
	for _, e := range entries {
		switch e.Role {
		case agent.RoleSystem:
			continue
		case agent.RoleUser:
			out = append(out, &genai.Content{Role: "user", Parts: []*genai.Part{{Text: e.Text}}})
		case agent.RoleAssistant:
			c := &genai.Content{Role: "model"}
			if e.Text != "" {
				c.Parts = append(c.Parts, &genai.Part{Text: e.Text})
			}
			for _, call := range e.Calls {
				args := map[string]any{}
				if len(call.Args) > 0 {
					if err := json.Unmarshal(call.Args, &args); err != nil {
						return nil, fmt.Errorf("step %d: decoding args of %s: %w", e.Step, call.Name, err)
					}
				}
				c.Parts = append(c.Parts, &genai.Part{FunctionCall: &genai.FunctionCall{ID: call.ID, Name: call.Name, Args: args}})
			}
			if len(c.Parts) > 0 {
				out = append(out, c)
			}
		case agent.RoleTool:
			c := &genai.Content{Role: "user"}
			for _, r := range e.Results {
				resp, err := responseObject(r.Content())
				if err != nil {
					return nil, fmt.Errorf("step %d: decoding result of %s: %w", e.Step, r.Name, err)
				}
				c.Parts = append(c.Parts, &genai.Part{FunctionResponse: &genai.FunctionResponse{ID: r.CallID, Name: r.Name, Response: resp}})
			}
			if len(c.Parts) > 0 {
				out = append(out, c)
			}
		default:
			return nil, fmt.Errorf("unknown role %q", e.Role)
		}
	}
	return out, nil
}

// responseObject decodes raw into the object Gemini expects. Error payloads
// pass through as {"error":...}; anything else is wrapped as {"output":...}.
func responseObject(raw json.RawMessage) (map[string]any, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	if m, ok := v.(map[string]any); ok {
		if _, isErr := m["error"]; isErr && len(m) == 1 {
			return m, nil
		}
	}
	return map[string]any{"output": v}, nil
}

// Declarations converts tool specs into Gemini function declarations.
func Declarations(specs []tools.Spec) []*genai.Tool {
	if len(specs) == 0 {
		return nil
	}
	decls := make([]*genai.FunctionDeclaration, 0, len(specs))
	for _, s := range specs {
		decls = append(decls, &genai.FunctionDeclaration{
			Name:        s.Name,
			Description: s.Description,
			Parameters:  schema(s.Input),
		})
	}
	return []*genai.Tool{{FunctionDeclarations: decls}}
}

var schemaTypes = map[tools.Type]genai.Type{
	tools.TypeString:  genai.TypeString,
	tools.TypeInteger: genai.TypeInteger,
	tools.TypeNumber:  genai.TypeNumber,
	tools.TypeBoolean: genai.TypeBoolean,
	tools.TypeObject:  genai.TypeObject,
	tools.TypeArray:   genai.TypeArray,
}

func schema(s tools.Schema) *genai.Schema {
	out := &genai.Schema{Type: genai.TypeObject, Properties: map[string]*genai.Schema{}}
	for _, name := range s.Names() {
		p := s.Properties[name]
		out.Properties[name] = &genai.Schema{Type: schemaTypes[p.Type], Description: p.Description}
	}
	out.Required = append(out.Required, s.Required...)
	return out
}

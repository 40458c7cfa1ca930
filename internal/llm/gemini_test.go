package llm

import (
	"context"
	"encoding/json"
	"errors"
	"iter"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	genai "google.golang.org/genai"

	"github.com/aezell/perfrev/internal/agent"
	"github.com/aezell/perfrev/internal/tools"
)

type fakeStream struct {
	attempts [][]streamItem
	calls    int
	contents [][]*genai.Content
	configs  []*genai.GenerateContentConfig
}

type streamItem struct {
	resp *genai.GenerateContentResponse
	err  error
}

func (f *fakeStream) GenerateContentStream(ctx context.Context, model string, contents []*genai.Content, cfg *genai.GenerateContentConfig) iter.Seq2[*genai.GenerateContentResponse, error] {
	items := f.attempts[min(f.calls, len(f.attempts)-1)]
	f.calls++
	f.contents = append(f.contents, contents)
	f.configs = append(f.configs, cfg)
	return func(yield func(*genai.GenerateContentResponse, error) bool) {
		for _, it := range items {
			if !yield(it.resp, it.err) {
				return
			}
		}
	}
}

func textResp(parts ...*genai.Part) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{Content: &genai.Content{Role: "model", Parts: parts}}}}
}

func collect(t *testing.T, seq iter.Seq2[agent.Event, error]) ([]agent.Event, error) {
	t.Helper()
	var evs []agent.Event
	for ev, err := range seq {
		if err != nil {
			return evs, err
		}
		evs = append(evs, ev)
	}
	return evs, nil
}

func TestStepStreamsTextAndCalls(t *testing.T) {
	fs := &fakeStream{attempts: [][]streamItem{{
		{resp: textResp(&genai.Part{Text: "Let me look"})},
		{resp: textResp(
			&genai.Part{Text: "thinking", Thought: true},
			&genai.Part{Text: " at the diff."},
			&genai.Part{FunctionCall: &genai.FunctionCall{Name: tools.GetFileChanges, Args: map[string]any{"rootDir": "../my-agent"}}},
		)},
	}}}
	g := newGemini(fs, Config{})

	evs, err := collect(t, g.Step(context.Background(), agent.Request{System: "be helpful", Step: 1}))
	require.NoError(t, err)
	require.Len(t, evs, 3)
	assert.Equal(t, agent.TextFragment{Text: "Let me look"}, evs[0])
	assert.Equal(t, agent.TextFragment{Text: " at the diff."}, evs[1])

	batch, ok := evs[2].(agent.ToolCallBatch)
	require.True(t, ok)
	require.Len(t, batch.Calls, 1)
	assert.Equal(t, tools.GetFileChanges, batch.Calls[0].Name)
	assert.JSONEq(t, `{"rootDir":"../my-agent"}`, string(batch.Calls[0].Args))

	require.NotNil(t, fs.configs[0].SystemInstruction)
	assert.Equal(t, "be helpful", fs.configs[0].SystemInstruction.Parts[0].Text)
}

func TestStepRetriesBeforeFirstEvent(t *testing.T) {
	fs := &fakeStream{attempts: [][]streamItem{
		{{err: genai.APIError{Code: 429, Message: "slow down"}}},
		{{err: genai.APIError{Code: 503, Message: "unavailable"}}},
		{{resp: textResp(&genai.Part{Text: "ok"})}},
	}}
	g := newGemini(fs, Config{MaxRetries: 3, BaseDelay: time.Millisecond})

	evs, err := collect(t, g.Step(context.Background(), agent.Request{Step: 1}))
	require.NoError(t, err)
	assert.Equal(t, []agent.Event{agent.TextFragment{Text: "ok"}}, evs)
	assert.Equal(t, 3, fs.calls)
}

func TestStepDoesNotRetryAfterOutput(t *testing.T) {
	fs := &fakeStream{attempts: [][]streamItem{{
		{resp: textResp(&genai.Part{Text: "partial"})},
		{err: genai.APIError{Code: 500, Message: "boom"}},
	}}}
	g := newGemini(fs, Config{MaxRetries: 3, BaseDelay: time.Millisecond})

	evs, err := collect(t, g.Step(context.Background(), agent.Request{Step: 1}))
	var ae genai.APIError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, 500, ae.Code)
	assert.Len(t, evs, 1)
	assert.Equal(t, 1, fs.calls)
}

func TestStepDoesNotRetryClientErrors(t *testing.T) {
	fs := &fakeStream{attempts: [][]streamItem{{{err: genai.APIError{Code: 400, Message: "bad request"}}}}}
	g := newGemini(fs, Config{MaxRetries: 3, BaseDelay: time.Millisecond})

	_, err := collect(t, g.Step(context.Background(), agent.Request{Step: 1}))
	require.Error(t, err)
	assert.Equal(t, 1, fs.calls)

	fs = &fakeStream{attempts: [][]streamItem{{{err: errors.New("network down")}}}}
	g = newGemini(fs, Config{MaxRetries: 3, BaseDelay: time.Millisecond})
	_, err = collect(t, g.Step(context.Background(), agent.Request{Step: 1}))
	require.Error(t, err)
	assert.Equal(t, 1, fs.calls)
}

func TestContents(t *testing.T) {
	entries := []agent.Entry{
		{Step: 0, Role: agent.RoleSystem, Text: "system"},
		{Step: 0, Role: agent.RoleUser, Text: "review ../my-agent"},
		{Step: 1, Role: agent.RoleAssistant, Text: "Reading changes.", Calls: []agent.ToolCall{
			{ID: "call_1_1", Name: tools.GetFileChanges, Args: json.RawMessage(`{"rootDir":"../my-agent"}`)},
		}},
		{Step: 1, Role: agent.RoleTool, Results: []agent.ToolResult{
			{CallID: "call_1_1", Name: tools.GetFileChanges, Output: json.RawMessage(`[{"path":"a.ts"}]`)},
		}},
		{Step: 2, Role: agent.RoleTool, Results: []agent.ToolResult{
			{CallID: "call_2_1", Name: tools.AnalyzeFilePerformance, Err: &tools.ValidationError{Tool: tools.AnalyzeFilePerformance, Field: "filePath", Reason: "required field missing"}},
		}},
	}

	contents, err := Contents(entries)
	require.NoError(t, err)
	require.Len(t, contents, 4)

	assert.Equal(t, "user", contents[0].Role)
	assert.Equal(t, "review ../my-agent", contents[0].Parts[0].Text)

	assert.Equal(t, "model", contents[1].Role)
	require.Len(t, contents[1].Parts, 2)
	assert.Equal(t, "Reading changes.", contents[1].Parts[0].Text)
	assert.Equal(t, map[string]any{"rootDir": "../my-agent"}, contents[1].Parts[1].FunctionCall.Args)

	fr := contents[2].Parts[0].FunctionResponse
	require.NotNil(t, fr)
	assert.Equal(t, "call_1_1", fr.ID)
	assert.Equal(t, []any{map[string]any{"path": "a.ts"}}, fr.Response["output"])

	errResp := contents[3].Parts[0].FunctionResponse.Response
	payload, ok := errResp["error"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, agent.ErrorKindValidation, payload["kind"])
}

func TestDeclarations(t *testing.T) {
	tl := Declarations([]tools.Spec{{
		Name:        tools.AnalyzeFilePerformance,
		Description: "scan a file",
		Input: tools.Schema{
			Properties: map[string]tools.Property{
				"filePath": {Type: tools.TypeString, Description: "path"},
				"content":  {Type: tools.TypeString},
			},
			Required: []string{"filePath"},
		},
	}})
	require.Len(t, tl, 1)
	require.Len(t, tl[0].FunctionDeclarations, 1)
	d := tl[0].FunctionDeclarations[0]
	assert.Equal(t, tools.AnalyzeFilePerformance, d.Name)
	assert.Equal(t, genai.TypeObject, d.Parameters.Type)
	assert.Equal(t, genai.TypeString, d.Parameters.Properties["filePath"].Type)
	assert.Equal(t, []string{"filePath"}, d.Parameters.Required)

	assert.Nil(t, Declarations(nil))
}

package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"

	"github.com/hyperjump/kotae/internal/models"
)

type fakeModel struct {
	resp     *llms.ContentResponse
	err      error
	messages []llms.MessageContent
	options  llms.CallOptions
}

func (f *fakeModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	f.messages = messages
	for _, opt := range options {
		opt(&f.options)
	}
	return f.resp, f.err
}

func (f *fakeModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, f, prompt, options...)
}

func textResponse(s string) *llms.ContentResponse {
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: s}}}
}

var docTool = ToolSpec{
	Name:        "retrieve_company_documents",
	Description: "Search internal company documents, policies, or rules.",
	Parameters:  map[string]any{"type": "object"},
}

func TestLangChain_FinalAnswer(t *testing.T) {
	m := &fakeModel{resp: textResponse("You get 12 days.")}
	g := NewLangChain(m, WithTemperature(0.5), WithMaxTokens(256))
	d, err := g.Generate(context.Background(), []models.Message{
		{Role: models.RoleSystem, Content: "be helpful"},
		{Role: models.RoleUser, Content: "How many leave days?"},
	}, []ToolSpec{docTool})
	require.NoError(t, err)
	assert.False(t, d.IsToolCall())
	assert.Equal(t, "You get 12 days.", d.Final)

	require.Len(t, m.messages, 2)
	assert.Equal(t, llms.ChatMessageTypeSystem, m.messages[0].Role)
	assert.Equal(t, llms.ChatMessageTypeHuman, m.messages[1].Role)
	assert.Equal(t, 0.5, m.options.Temperature)
	assert.Equal(t, 256, m.options.MaxTokens)
	require.Len(t, m.options.Tools, 1)
	assert.Equal(t, "retrieve_company_documents", m.options.Tools[0].Function.Name)
}

func TestLangChain_ToolCall(t *testing.T) {
	m := &fakeModel{resp: &llms.ContentResponse{Choices: []*llms.ContentChoice{{
		ToolCalls: []llms.ToolCall{{
			ID:           "x",
			Type:         "function",
			FunctionCall: &llms.FunctionCall{Name: "web_search", Arguments: `{"query":"weather"}`},
		}},
	}}}}
	d, err := NewLangChain(m).Generate(context.Background(), nil, []ToolSpec{docTool})
	require.NoError(t, err)
	assert.True(t, d.IsToolCall())
	assert.Equal(t, "web_search", d.ToolName)
	assert.JSONEq(t, `{"query":"weather"}`, string(d.Arguments))
}

func TestLangChain_ToolCallIgnoredWithoutTools(t *testing.T) {
	m := &fakeModel{resp: &llms.ContentResponse{Choices: []*llms.ContentChoice{{
		Content:   "final text",
		ToolCalls: []llms.ToolCall{{FunctionCall: &llms.FunctionCall{Name: "web_search"}}},
	}}}}
	d, err := NewLangChain(m).Generate(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "final text", d.Final)
	assert.Empty(t, m.options.Tools)
}

func TestLangChain_Errors(t *testing.T) {
	_, err := NewLangChain(&fakeModel{resp: textResponse("  ")}).Generate(context.Background(), nil, nil)
	assert.ErrorIs(t, err, ErrEmptyResponse)

	boom := errors.New("quota exceeded")
	_, err = NewLangChain(&fakeModel{err: boom}).Generate(context.Background(), nil, nil)
	assert.ErrorIs(t, err, boom)
}

func TestConvertMessages_PairsToolCalls(t *testing.T) {
	msgs := convertMessages([]models.Message{
		{Role: models.RoleUser, Content: "q"},
		{Role: models.RoleAssistant, ToolName: "web_search", ToolArguments: []byte(`{"query":"a"}`)},
		{Role: models.RoleTool, ToolName: "web_search", Content: "obs a"},
		{Role: models.RoleAssistant, ToolName: "retrieve_company_documents"},
		{Role: models.RoleTool, ToolName: "retrieve_company_documents", Content: "obs b"},
		{Role: models.RoleAssistant, Content: "done"},
	})
	require.Len(t, msgs, 6)

	call, ok := msgs[1].Parts[0].(llms.ToolCall)
	require.True(t, ok)
	resp, ok := msgs[2].Parts[0].(llms.ToolCallResponse)
	require.True(t, ok)
	assert.Equal(t, call.ID, resp.ToolCallID)
	assert.Equal(t, "obs a", resp.Content)

	call2 := msgs[3].Parts[0].(llms.ToolCall)
	assert.Equal(t, "{}", call2.FunctionCall.Arguments)
	assert.Equal(t, call2.ID, msgs[4].Parts[0].(llms.ToolCallResponse).ToolCallID)
	assert.NotEqual(t, call.ID, call2.ID)
	assert.Equal(t, llms.ChatMessageTypeAI, msgs[5].Role)
}

func TestConvertMessages_DropsUnpairedObservation(t *testing.T) {
	msgs := convertMessages([]models.Message{
		{Role: models.RoleTool, ToolName: "web_search", Content: "stale"},
		{Role: models.RoleAssistant, Content: "earlier answer"},
		{Role: models.RoleUser, Content: "next question"},
	})
	require.Len(t, msgs, 2)
	assert.Equal(t, llms.ChatMessageTypeAI, msgs[0].Role)
	assert.Equal(t, llms.ChatMessageTypeHuman, msgs[1].Role)
	for _, m := range msgs {
		for _, p := range m.Parts {
			_, isResponse := p.(llms.ToolCallResponse)
			assert.False(t, isResponse)
		}
	}
}

func TestScripted(t *testing.T) {
	s := NewScripted(ToolRequest("web_search", `{"query":"x"}`), Answer("done"))
	ctx := context.Background()
	d, err := s.Generate(ctx, []models.Message{{Role: models.RoleUser, Content: "q"}}, []ToolSpec{docTool})
	require.NoError(t, err)
	assert.Equal(t, "web_search", d.ToolName)
	d, err = s.Generate(ctx, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "done", d.Final)
	_, err = s.Generate(ctx, nil, nil)
	assert.ErrorIs(t, err, ErrScriptExhausted)

	calls := s.Calls()
	require.Len(t, calls, 3)
	assert.Len(t, calls[0].History, 1)
	assert.Len(t, calls[0].Tools, 1)
}

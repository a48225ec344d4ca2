package planner

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grantwatch/internal/agent/tools"
	"grantwatch/internal/domain"
	"grantwatch/internal/port"
)

// knownGrants resolves a fixed set of identifiers.
type knownGrants map[string]bool

func (k knownGrants) GetGrantByID(ctx context.Context, id string) (domain.Grant, bool, error) {
	if !k[id] {
		return domain.Grant{}, false, nil
	}
	return domain.Grant{ID: id}, true, nil
}

var indexed = knownGrants{"TEST-AI-002": true, "TEST-CYBER-001": true}

var catalog = []port.ToolSpec{
	{Name: tools.SearchToolName, Description: "search", Usage: "<query>"},
	{Name: tools.SummarizeToolName, Description: "summarize", Usage: "<id>"},
}

func TestKeywordPlanner_Search(t *testing.T) {
	calls, err := NewKeywordPlanner(indexed).Plan(context.Background(), "Find grants about cybersecurity", catalog)
	require.NoError(t, err)
	require.Len(t, calls, 1)
	assert.Equal(t, tools.SearchToolName, calls[0].Tool)
	assert.JSONEq(t, `{"query":"Find grants about cybersecurity"}`, calls[0].Input)
}

func TestKeywordPlanner_TopN(t *testing.T) {
	calls, err := NewKeywordPlanner(indexed).Plan(context.Background(), "top 3 climate grants", catalog)
	require.NoError(t, err)
	require.Len(t, calls, 1)
	assert.JSONEq(t, `{"query":"top 3 climate grants","top_k":3}`, calls[0].Input)
}

func TestKeywordPlanner_Identifiers(t *testing.T) {
	calls, err := NewKeywordPlanner(indexed).Plan(context.Background(), "Compare TEST-AI-002 with TEST-CYBER-001 and TEST-AI-002", catalog)
	require.NoError(t, err)
	assert.Equal(t, []port.PlannedCall{
		{Tool: tools.SummarizeToolName, Input: "TEST-AI-002"},
		{Tool: tools.SummarizeToolName, Input: "TEST-CYBER-001"},
	}, calls)
}

func TestKeywordPlanner_UnknownIdentifierShapesAreSearched(t *testing.T) {
	query := "Find COVID-19 research grants for K-12 cybersecurity"
	calls, err := NewKeywordPlanner(indexed).Plan(context.Background(), query, catalog)
	require.NoError(t, err)
	require.Len(t, calls, 1)
	assert.Equal(t, tools.SearchToolName, calls[0].Tool)
	assert.JSONEq(t, `{"query":"Find COVID-19 research grants for K-12 cybersecurity"}`, calls[0].Input)

	calls, err = NewKeywordPlanner(indexed).Plan(context.Background(), "COVID-19 research and TEST-AI-002", catalog)
	require.NoError(t, err)
	assert.Equal(t, []port.PlannedCall{{Tool: tools.SummarizeToolName, Input: "TEST-AI-002"}}, calls)
}

func TestKeywordPlanner_NoGetterSearches(t *testing.T) {
	calls, err := NewKeywordPlanner(nil).Plan(context.Background(), "summarize TEST-AI-002", catalog)
	require.NoError(t, err)
	require.Len(t, calls, 1)
	assert.Equal(t, tools.SearchToolName, calls[0].Tool)
}

func TestKeywordPlanner_RespectsCatalog(t *testing.T) {
	calls, err := NewKeywordPlanner(indexed).Plan(context.Background(), "TEST-AI-002", catalog[:1])
	require.NoError(t, err)
	require.Len(t, calls, 1)
	assert.Equal(t, tools.SearchToolName, calls[0].Tool)

	calls, err = NewKeywordPlanner(indexed).Plan(context.Background(), "anything", nil)
	require.NoError(t, err)
	assert.Empty(t, calls)
}

func TestParsePlan(t *testing.T) {
	content := "Here is the plan:\n```json\n" +
		`{"calls":[{"tool":"search_grants","input":"climate top_k=2"},{"tool":"summarize_grant","input":{"id":"TEST-DATA-003"}}]}` +
		"\n```"

	calls, err := parsePlan(content)
	require.NoError(t, err)
	require.Len(t, calls, 2)
	assert.Equal(t, "climate top_k=2", calls[0].Input)
	assert.JSONEq(t, `{"id":"TEST-DATA-003"}`, calls[1].Input)

	_, err = parsePlan("I am not sure what to do.")
	assert.Error(t, err)
}

func TestLLMPlanner_Plan(t *testing.T) {
	var got openai.ChatCompletionRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/chat/completions", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(openai.ChatCompletionResponse{
			Choices: []openai.ChatCompletionChoice{{
				Message: openai.ChatCompletionMessage{
					Role:    openai.ChatMessageRoleAssistant,
					Content: `{"calls":[{"tool":"search_grants","input":"machine learning top_k=3"}]}`,
				},
			}},
		})
	}))
	defer srv.Close()

	t.Setenv("TEST_PLANNER_KEY", "sk-test")
	p, err := NewLLMPlanner(LLMOptions{APIKeyEnv: "TEST_PLANNER_KEY", BaseURL: srv.URL + "/v1", Model: "test-model"})
	require.NoError(t, err)
	assert.Equal(t, "llm:test-model", p.Name())

	calls, err := p.Plan(context.Background(), "machine learning grants", catalog)
	require.NoError(t, err)
	assert.Equal(t, []port.PlannedCall{{Tool: "search_grants", Input: "machine learning top_k=3"}}, calls)

	require.Len(t, got.Messages, 2)
	assert.Contains(t, got.Messages[0].Content, "summarize_grant")
	assert.Equal(t, "machine learning grants", got.Messages[1].Content)
}

func TestLLMPlanner_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":{"message":"overloaded"}}`))
	}))
	defer srv.Close()

	p, err := NewLLMPlanner(LLMOptions{APIKeyEnv: "UNSET_PLANNER_KEY", BaseURL: srv.URL + "/v1"})
	require.NoError(t, err)

	_, err = p.Plan(context.Background(), "anything", catalog)
	assert.Error(t, err)
}

func TestLLMPlanner_QueryOverBudgetIsNotSent(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	p, err := NewLLMPlanner(LLMOptions{APIKeyEnv: "UNSET_PLANNER_KEY", BaseURL: srv.URL + "/v1", MaxQueryTokens: 20})
	require.NoError(t, err)

	long := strings.Repeat("rural broadband infrastructure grants ", 10)
	_, err = p.Plan(context.Background(), long, catalog)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	assert.Contains(t, err.Error(), "budget is 20")
	assert.Equal(t, int32(0), requests.Load())

	_, err = p.Plan(context.Background(), "rural broadband", catalog)
	assert.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrInvalidInput)
	assert.Equal(t, int32(1), requests.Load())
}

func TestNewLLMPlanner_RequiresKeyWithoutBaseURL(t *testing.T) {
	_, err := NewLLMPlanner(LLMOptions{APIKeyEnv: "UNSET_PLANNER_KEY"})
	assert.Error(t, err)
}

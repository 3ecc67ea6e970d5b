package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cinematch/cinematch/internal/model"
)

// OllamaReasoner asks a local Ollama chat model for the next decision. The
// model is constrained to JSON output and instructed to answer with either a
// tool_call or a reply action.
type OllamaReasoner struct {
	baseURL    string
	model      string
	httpClient *http.Client
}

// NewOllamaReasoner creates a reasoner backed by Ollama's chat API. Model
// should be an instruction-tuned chat model like "llama3.1".
func NewOllamaReasoner(baseURL, chatModel string) *OllamaReasoner {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	return &OllamaReasoner{
		baseURL: baseURL,
		model:   chatModel,
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
	}
}

const systemPrompt = `You are a movie recommendation assistant with two tools:

- query_movies: structured catalog search. Arguments: genre, year, year_min,
  year_max, cast, director, title, limit, offset, order_by, order_dir,
  response_format.
- search_movies: semantic similarity search over plot and mood. Arguments:
  query_text, top_k.

Respond with a single JSON object, nothing else:
  {"action": "tool_call", "tool": "<name>", "arguments": {...}}
or
  {"action": "reply", "reply": "<your answer to the user>"}

Use tool results already shown to you instead of repeating the same call.`

type ollamaChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaChatRequest struct {
	Model    string              `json:"model"`
	Messages []ollamaChatMessage `json:"messages"`
	Stream   bool                `json:"stream"`
	Format   string              `json:"format"`
}

type ollamaChatResponse struct {
	Message ollamaChatMessage `json:"message"`
}

type ollamaDecision struct {
	Action    string         `json:"action"`
	Tool      string         `json:"tool"`
	Arguments map[string]any `json:"arguments"`
	Reply     string         `json:"reply"`
}

// Decide sends the transcript plus this cycle's tool results to the model and
// parses its JSON decision.
func (r *OllamaReasoner) Decide(ctx context.Context, req DecideRequest) (Decision, error) {
	messages := []ollamaChatMessage{{Role: "system", Content: systemPrompt}}

	for _, turn := range req.Session.Turns {
		messages = append(messages, ollamaChatMessage{Role: turn.Role, Content: turn.Content})
	}
	messages = append(messages, ollamaChatMessage{Role: "user", Content: req.UserMessage})

	for _, inv := range req.ToolResults {
		content, err := json.Marshal(inv)
		if err != nil {
			return Decision{}, fmt.Errorf("agent: marshal tool result: %w", err)
		}
		messages = append(messages, ollamaChatMessage{
			Role:    "user",
			Content: "Tool result: " + string(content),
		})
	}

	body, err := json.Marshal(ollamaChatRequest{
		Model:    r.model,
		Messages: messages,
		Stream:   false,
		Format:   "json",
	})
	if err != nil {
		return Decision{}, fmt.Errorf("agent: marshal chat request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return Decision{}, fmt.Errorf("agent: create chat request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := r.httpClient.Do(httpReq)
	if err != nil {
		return Decision{}, fmt.Errorf("agent: send chat request: %w: %w", model.ErrUpstream, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return Decision{}, fmt.Errorf("agent: chat status %d: %s: %w", resp.StatusCode, string(msg), model.ErrUpstream)
	}

	var chatResp ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return Decision{}, fmt.Errorf("agent: decode chat response: %w", err)
	}

	var parsed ollamaDecision
	if err := json.Unmarshal([]byte(chatResp.Message.Content), &parsed); err != nil {
		return Decision{}, fmt.Errorf("agent: model output is not valid JSON: %w", err)
	}

	switch parsed.Action {
	case DecisionToolCall:
		// Unknown tool names pass through; the loop records the failure and
		// shows it to the model on the next iteration.
		return Decision{Kind: DecisionToolCall, Tool: parsed.Tool, Arguments: parsed.Arguments}, nil
	case DecisionReply:
		return Decision{Kind: DecisionReply, Reply: parsed.Reply}, nil
	default:
		return Decision{}, fmt.Errorf("agent: model returned unknown action %q", parsed.Action)
	}
}

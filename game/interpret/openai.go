package interpret

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/lorechronicles/server/config"
)

const systemPrompt = `You are the game master of a branching text adventure.
The player typed a free-form action instead of picking a listed choice.
Decide whether the action is plausible in the current scene. Respond with
a single JSON object and nothing else:
{
  "is_valid": bool,
  "interpretation": "what the player is attempting, or why it is rejected",
  "stat_check": {"stat": "strength|magic|charisma|wisdom|agility", "difficulty": 1-10, "success": bool} or null,
  "narration": "second-person narration of the outcome",
  "stat_effects": {"stat": delta} or null,
  "flag_effects": {"flag": value} or null,
  "xp_reward": 0-50
}
Rules: rejected actions get is_valid=false, empty effects and xp_reward 0.
Stat deltas must stay within -2..+2. Never move the player to another scene.`

// OpenAIInterpreter calls a chat-completion endpoint and parses the
// structured verdict out of the reply.
type OpenAIInterpreter struct {
	client *openai.Client
	cfg    config.AIConfig
	logger *zap.Logger
}

func NewOpenAIInterpreter(cfg config.AIConfig, logger *zap.Logger) *OpenAIInterpreter {
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.APIBase != "" {
		oc.BaseURL = cfg.APIBase
	}
	return &OpenAIInterpreter{
		client: openai.NewClientWithConfig(oc),
		cfg:    cfg,
		logger: logger,
	}
}

func (o *OpenAIInterpreter) Interpret(ctx context.Context, req Request) (*Result, error) {
	timeout := o.cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req.History = boundHistory(req.History, o.cfg.HistoryWindow)
	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       o.cfg.Model,
		Temperature: o.cfg.Temperature,
		MaxTokens:   o.cfg.MaxTokens,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: buildUserPrompt(req)},
		},
	})
	if err != nil {
		return nil, classifyError(err)
	}
	if len(resp.Choices) == 0 {
		return nil, &ServiceError{Kind: KindOther, Err: errors.New("empty completion")}
	}

	result, err := parseResult(resp.Choices[0].Message.Content)
	if err != nil {
		o.logger.Warn("unparseable interpreter reply",
			zap.Int64("session_id", req.SessionID),
			zap.Error(err))
		return nil, &ServiceError{Kind: KindOther, Err: err}
	}
	return result, nil
}

// boundHistory keeps the most recent w entries of the action history sent to
// the model. w <= 0 means no bound.
func boundHistory(history []HistoryEntry, w int) []HistoryEntry {
	if w <= 0 || len(history) <= w {
		return history
	}
	return history[len(history)-w:]
}

func buildUserPrompt(req Request) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Scene:\n%s\n\n", req.NodeContent)
	fmt.Fprintf(&b, "Character: %s, stats %v\n", req.CharacterName, req.Stats)
	if len(req.History) > 0 {
		b.WriteString("Recent actions:\n")
		for _, h := range req.History {
			fmt.Fprintf(&b, "- %s => %s\n", h.Text, h.Outcome)
		}
	}
	fmt.Fprintf(&b, "\nPlayer action: %s\n", req.PlayerText)
	return b.String()
}

// parseResult handles both bare JSON and JSON wrapped in a markdown
// code fence, which some models emit despite instructions.
func parseResult(raw string) (*Result, error) {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if i := strings.LastIndex(s, "```"); i >= 0 {
			s = s[:i]
		}
		s = strings.TrimSpace(s)
	}
	var r Result
	if err := json.Unmarshal([]byte(s), &r); err != nil {
		return nil, fmt.Errorf("parse interpreter reply: %w", err)
	}
	if r.Interpretation == "" && r.Narration == "" {
		return nil, errors.New("interpreter reply missing narration")
	}
	return &r, nil
}

func classifyError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if code, ok := apiErr.Code.(string); ok && code == "insufficient_quota" {
			return &ServiceError{Kind: KindQuotaExhausted, Err: err}
		}
		if apiErr.HTTPStatusCode == 429 {
			return &ServiceError{Kind: KindRateLimited, Err: err}
		}
	}
	return &ServiceError{Kind: KindOther, Err: err}
}

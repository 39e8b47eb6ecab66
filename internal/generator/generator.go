// Package generator turns a question and its retrieved legislation excerpts
// into an answer from the configured chat model.
package generator

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/joedaviesio/magna/internal/assemble"
	"github.com/joedaviesio/magna/internal/budget"
	"github.com/joedaviesio/magna/internal/logging"
	"github.com/joedaviesio/magna/internal/retrieval"
)

// SystemPrompt establishes Bowen's persona and the information-not-advice
// rules for every answer.
//
//go:embed system_prompt.md
var SystemPrompt string

// Disclaimer is attached to every chat response.
const Disclaimer = "⚠️ Bowen is a chatbot, not legal advice. It may be incomplete or outdated. " +
	"For legal decisions, consult a qualified NZ lawyer or Community Law Centre."

// DefaultMaxTokens caps answer length when the config leaves it unset.
const DefaultMaxTokens = 1500

// ErrEmptyResponse is returned when the model answers with no text.
var ErrEmptyResponse = errors.New("generator: model returned an empty response")

const userTemplate = `Question: %s

LEGISLATION EXCERPTS FROM DATABASE:
%s

---

Please answer the question using:
1. Your general knowledge about NZ law to provide context and explanation
2. The specific excerpts above to cite exact provisions and wording

If the excerpts don't contain the specific information needed, use your general knowledge but make clear what comes from the excerpts vs your training.

Remember: Provide information, not legal advice. Cite specific sections where possible.`

// Config holds the dependencies required to construct a Generator.
type Config struct {
	// ChatModel is the LLM backend constructed by the provider factory.
	ChatModel model.BaseChatModel

	// MaxTokens caps the answer length. Defaults to DefaultMaxTokens if zero.
	MaxTokens int

	// Temperature is passed through to the model when positive.
	Temperature float32

	// MaxContextTokens is the estimated budget for the prompt. Lowest ranked
	// excerpts are dropped to fit. Defaults to budget.DefaultMaxContextTokens
	// if zero.
	MaxContextTokens int
}

// Generator renders prompts and calls the chat model. It holds no mutable
// state and is safe for concurrent use.
type Generator struct {
	model            model.BaseChatModel
	maxTokens        int
	temperature      float32
	maxContextTokens int
}

// Answer is a generated response and how many excerpts made it into the
// prompt.
type Answer struct {
	Text        string
	UsedResults int
}

// New constructs a Generator from the provided Config.
func New(cfg *Config) (*Generator, error) {
	if cfg == nil || cfg.ChatModel == nil {
		return nil, fmt.Errorf("generator: ChatModel must not be nil")
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	maxCtx := cfg.MaxContextTokens
	if maxCtx <= 0 {
		maxCtx = budget.DefaultMaxContextTokens
	}
	return &Generator{
		model:            cfg.ChatModel,
		maxTokens:        maxTokens,
		temperature:      cfg.Temperature,
		maxContextTokens: maxCtx,
	}, nil
}

// UserPrompt renders the user turn for a question and its context block.
func UserPrompt(query, context string) string {
	return fmt.Sprintf(userTemplate, query, context)
}

// BuildMessages returns the system and user messages for query with the
// results rendered as context, trimmed lowest-rank-first to the context
// budget, and the number of results kept.
func (g *Generator) BuildMessages(ctx context.Context, query string, results []retrieval.Result) ([]*schema.Message, int) {
	msgs, keep := budget.Trim(len(results), g.maxContextTokens, func(keep int) []*schema.Message {
		return []*schema.Message{
			schema.SystemMessage(SystemPrompt),
			schema.UserMessage(UserPrompt(query, assemble.Context(results[:keep]))),
		}
	})
	if dropped := len(results) - keep; dropped > 0 {
		logging.FromContext(ctx).Warn("budget: dropped excerpts to fit context window",
			slog.Int("dropped", dropped),
			slog.Int("retained", keep),
			slog.Int("max_tokens", g.maxContextTokens),
		)
	}
	return msgs, keep
}

// Generate asks the model to answer query from the given results.
func (g *Generator) Generate(ctx context.Context, query string, results []retrieval.Result) (Answer, error) {
	msgs, keep := g.BuildMessages(ctx, query, results)

	opts := []model.Option{model.WithMaxTokens(g.maxTokens)}
	if g.temperature > 0 {
		opts = append(opts, model.WithTemperature(g.temperature))
	}

	resp, err := g.model.Generate(ctx, msgs, opts...)
	if err != nil {
		return Answer{}, fmt.Errorf("generator: generate: %w", err)
	}
	if resp == nil || strings.TrimSpace(resp.Content) == "" {
		return Answer{}, ErrEmptyResponse
	}
	return Answer{Text: resp.Content, UsedResults: keep}, nil
}

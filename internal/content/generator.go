package content

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/knowyourrights/knowyourrights/internal/llm"
)

const (
	rightsSystemPrompt = "You are a legal rights expert who provides accurate, practical advice for police encounters. Always emphasize constitutional rights and de-escalation."
	learnSystemPrompt  = "You are an educational content creator focused on civil rights and police encounter safety."

	// LearnUnavailable is returned by Learn when no content could be produced.
	LearnUnavailable = "Educational content not available at this time."

	defaultTimeout = 20 * time.Second
)

var errNoClient = errors.New("no language model configured")

type Source string

const (
	SourceGenerated Source = "generated"
	SourceFallback  Source = "fallback"
)

// Result is the outcome of one generation. Err records why the fallback was
// used and is informational only.
type Result struct {
	Content GeneratedContent
	Source  Source
	Err     error
}

type Generator struct {
	client  llm.Client
	timeout time.Duration
}

type Option func(*Generator)

func WithTimeout(d time.Duration) Option {
	return func(g *Generator) {
		if d > 0 {
			g.timeout = d
		}
	}
}

// NewGenerator builds a Generator. A nil client is allowed; every request then
// gets the built-in content.
func NewGenerator(client llm.Client, opts ...Option) *Generator {
	g := &Generator{client: client, timeout: defaultTimeout}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate asks the model for guidance for one region and category. It never
// fails: on any error the catalog entry for the category is returned.
func (g *Generator) Generate(ctx context.Context, region, category string) Result {
	content, err := g.generate(ctx, region, category)
	if err != nil {
		slog.Warn("content: falling back to default", "region", region, "category", category, "error", err)
		return Result{Content: Default(category).Content, Source: SourceFallback, Err: err}
	}
	return Result{Content: content, Source: SourceGenerated}
}

func (g *Generator) generate(ctx context.Context, region, category string) (GeneratedContent, error) {
	if g.client == nil {
		return GeneratedContent{}, errNoClient
	}
	cat, ok := LookupCategory(category)
	if !ok {
		return GeneratedContent{}, fmt.Errorf("unknown category %q", category)
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	reply, err := g.client.Complete(ctx, llm.Request{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: rightsSystemPrompt},
			{Role: llm.RoleUser, Content: rightsPrompt(region, cat.Label)},
		},
		Temperature: 0.3,
		MaxTokens:   500,
		JSON:        true,
	})
	if err != nil {
		return GeneratedContent{}, fmt.Errorf("complete: %w", err)
	}
	return ParseGenerated(reply)
}

func rightsPrompt(region, label string) string {
	return fmt.Sprintf(`Generate specific legal rights information for a %s in %s.

Reply with a JSON object with exactly these fields:
- "rights": 3-5 short statements of the person's rights
- "script": 1-2 sentences the person can say to the officer
- "tips": 2-4 practical tips for staying safe
- "warnings": 1-3 things the person must not do

Focus on constitutional rights and %s law. Keep it practical and easy to remember under stress.`, strings.ToLower(label), region, region)
}

// Learn returns short educational text about a topic, or LearnUnavailable.
func (g *Generator) Learn(ctx context.Context, topic string) string {
	topic = strings.TrimSpace(topic)
	if g.client == nil || topic == "" {
		return LearnUnavailable
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	prompt := fmt.Sprintf(`Provide educational content about %s in police encounters.
Keep it concise, practical, and focused on constitutional rights and safety.
Limit to 3-4 key points in simple language.`, topic)

	reply, err := g.client.Complete(ctx, llm.Request{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: learnSystemPrompt},
			{Role: llm.RoleUser, Content: prompt},
		},
		Temperature: 0.3,
		MaxTokens:   300,
	})
	if err != nil {
		slog.Warn("content: educational content unavailable", "topic", topic, "error", err)
		return LearnUnavailable
	}
	return reply
}

// Card is a rendered rights card. Title always comes from the catalog.
type Card struct {
	Title    string           `json:"title"`
	Region   string           `json:"region"`
	Category string           `json:"category"`
	Content  GeneratedContent `json:"content"`
	Source   Source           `json:"source"`
}

func (g *Generator) Card(ctx context.Context, region, category string) Card {
	res := g.Generate(ctx, region, category)
	return Card{
		Title:    Default(category).Title,
		Region:   region,
		Category: category,
		Content:  res.Content,
		Source:   res.Source,
	}
}

package compaction

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
)

// Summarizer condenses a rendered transcript into summary text.
type Summarizer interface {
	Summarize(ctx context.Context, transcript string) (string, error)
}

// SummarizerFunc adapts a function to Summarizer.
type SummarizerFunc func(ctx context.Context, transcript string) (string, error)

// Summarize calls f.
func (f SummarizerFunc) Summarize(ctx context.Context, transcript string) (string, error) {
	return f(ctx, transcript)
}

// AnthropicSummarizer summarizes transcripts using Claude's streaming API.
type AnthropicSummarizer struct {
	client         *anthropic.Client
	model          string
	maxTokens      int
	promptTemplate string
}

// NewAnthropicSummarizer creates a new summarizer with the given Anthropic client and model.
func NewAnthropicSummarizer(client *anthropic.Client, model string, maxTokens int) *AnthropicSummarizer {
	if model == "" {
		model = DefaultSummarizerModel
	}
	if maxTokens <= 0 {
		maxTokens = DefaultSummarizerMaxTokens
	}
	return &AnthropicSummarizer{
		client:         client,
		model:          model,
		maxTokens:      maxTokens,
		promptTemplate: DefaultPromptTemplate,
	}
}

// WithPromptTemplate replaces the user prompt. The template must contain
// ConversationPlaceholder.
func (s *AnthropicSummarizer) WithPromptTemplate(template string) *AnthropicSummarizer {
	s.promptTemplate = template
	return s
}

// Model returns the model used for summaries.
func (s *AnthropicSummarizer) Model() string {
	return s.model
}

// Summarize streams a summary of transcript and returns its text.
func (s *AnthropicSummarizer) Summarize(ctx context.Context, transcript string) (string, error) {
	if s.client == nil {
		return "", fmt.Errorf("%w: no anthropic client", ErrSummarizationFailed)
	}

	stream := s.client.Messages.NewStreaming(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(s.model),
		MaxTokens: int64(s.maxTokens),
		System: []anthropic.TextBlockParam{
			{Text: SummarizationSystemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(BuildSummarizationPrompt(s.promptTemplate, transcript))),
		},
	})
	defer stream.Close()

	message := anthropic.Message{}
	for stream.Next() {
		event := stream.Current()
		if err := message.Accumulate(event); err != nil {
			return "", fmt.Errorf("%w: failed to accumulate stream: %v", ErrSummarizationFailed, err)
		}
	}

	if err := stream.Err(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrSummarizationFailed, err)
	}

	var summary strings.Builder
	for _, block := range message.Content {
		if text, ok := block.AsAny().(anthropic.TextBlock); ok {
			summary.WriteString(text.Text)
		}
	}

	if summary.Len() == 0 {
		return "", fmt.Errorf("%w: empty response from summarizer", ErrSummarizationFailed)
	}

	return summary.String(), nil
}

var (
	_ Summarizer = (*AnthropicSummarizer)(nil)
	_ Summarizer = SummarizerFunc(nil)
)

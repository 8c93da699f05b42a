package compaction

import (
	"strings"

	"github.com/youssefsiam38/sessionpg/types"
)

// ConversationPlaceholder marks where the transcript goes in a prompt template.
const ConversationPlaceholder = "{{conversation}}"

// SummarizationSystemPrompt is the system prompt used for checkpoint summaries.
const SummarizationSystemPrompt = `You condense chat transcripts into short summaries that replace the original turns in the model's context.

Guidelines:
- Keep facts, names, numbers and decisions the conversation depends on
- Keep the user's stated goals, preferences and constraints
- Keep open questions and promised follow-ups
- If the transcript starts with an earlier summary, merge it into the new one
- Write in the language the conversation uses
- Do not add information that is not in the transcript`

// DefaultPromptTemplate is the user prompt sent with the transcript.
const DefaultPromptTemplate = `Please summarize and condense the following conversation. Keep the key information and context so the conversation can continue naturally from the summary alone.

Conversation:
` + ConversationPlaceholder + `

Please provide a concise summary:`

// BuildSummarizationPrompt substitutes transcript into template. An empty
// template uses DefaultPromptTemplate.
func BuildSummarizationPrompt(template, transcript string) string {
	if template == "" {
		template = DefaultPromptTemplate
	}
	return strings.ReplaceAll(template, ConversationPlaceholder, transcript)
}

// RenderTranscript formats messages as "<label>: <content>" blocks separated
// by blank lines, in log order. A checkpoint contributes its summary text
// without the fold header.
func RenderTranscript(messages []*types.Message, labels RoleLabels) (string, error) {
	labels.ApplyDefaults()

	parts := make([]string, 0, len(messages))
	for _, msg := range messages {
		label, err := labels.Label(msg.Role)
		if err != nil {
			return "", err
		}

		content := msg.Content
		if msg.IsCheckpoint() {
			if _, summary, ok := ParseCheckpoint(content); ok {
				content = summary
			}
		}
		parts = append(parts, label+": "+content)
	}
	return strings.Join(parts, "\n\n"), nil
}

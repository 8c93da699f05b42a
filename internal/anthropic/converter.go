// Package anthropic converts a session's working context into Claude
// Messages API parameters.
package anthropic

import (
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/youssefsiam38/sessionpg/types"
)

// ConvertTurns splits a working context into system prompt blocks and
// messages. System turns become system blocks in order. Checkpoint turns are
// sent as user text since the API has no summary role. Consecutive turns with
// the same API role are merged into one message with several text blocks.
func ConvertTurns(turns []types.Turn) ([]anthropic.TextBlockParam, []anthropic.MessageParam) {
	var system []anthropic.TextBlockParam
	messages := make([]anthropic.MessageParam, 0, len(turns))

	for _, turn := range turns {
		if turn.Role == types.RoleSystem {
			system = append(system, BuildSystemPrompt(turn.Content)...)
			continue
		}

		role := anthropic.MessageParamRoleUser
		if turn.Role == types.RoleAssistant {
			role = anthropic.MessageParamRoleAssistant
		}

		// The API rejects empty text blocks
		text := turn.Content
		if strings.TrimSpace(text) == "" {
			continue
		}

		if n := len(messages); n > 0 && messages[n-1].Role == role {
			messages[n-1].Content = append(messages[n-1].Content, anthropic.NewTextBlock(text))
			continue
		}

		messages = append(messages, anthropic.MessageParam{
			Role:    role,
			Content: []anthropic.ContentBlockParamUnion{anthropic.NewTextBlock(text)},
		})
	}

	return system, messages
}

// BuildSystemPrompt creates system prompt blocks
func BuildSystemPrompt(systemPrompt string) []anthropic.TextBlockParam {
	return []anthropic.TextBlockParam{
		{
			Type: "text",
			Text: systemPrompt,
		},
	}
}

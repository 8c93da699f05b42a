// Package render formats a session's working context for people: Markdown
// for terminals and logs, sanitized HTML for browsers.
//
// Message content is untrusted user and model text, so HTML output always
// passes through a bluemonday policy after goldmark renders it.
package render

import (
	"bytes"
	"fmt"
	"html"
	"strings"
	"sync"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/youssefsiam38/sessionpg/compaction"
	"github.com/youssefsiam38/sessionpg/types"
)

var (
	markdownOnce sync.Once
	markdown     goldmark.Markdown

	policyOnce sync.Once
	policy     *bluemonday.Policy
)

func getMarkdown() goldmark.Markdown {
	markdownOnce.Do(func() {
		markdown = goldmark.New(goldmark.WithExtensions(extension.GFM))
	})
	return markdown
}

func getPolicy() *bluemonday.Policy {
	policyOnce.Do(func() {
		policy = bluemonday.UGCPolicy()
		policy.AllowAttrs("class").Matching(bluemonday.SpaceSeparatedTokens).OnElements("div", "code")
	})
	return policy
}

// Markdown renders turns as a Markdown document with one section per turn.
// Checkpoint turns, as returned by Service.Transcript, are shown without
// their header line.
func Markdown(turns []types.Turn, labels compaction.RoleLabels) (string, error) {
	labels.ApplyDefaults()

	var b strings.Builder
	for i, turn := range turns {
		label, content, err := section(turn, labels)
		if err != nil {
			return "", err
		}
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "### %s\n\n%s", label, content)
	}
	return b.String(), nil
}

// HTML renders turns as sanitized HTML. Each turn is wrapped in a div with
// the class "turn turn-<role>".
func HTML(turns []types.Turn, labels compaction.RoleLabels) (string, error) {
	labels.ApplyDefaults()

	var buf bytes.Buffer
	for _, turn := range turns {
		label, content, err := section(turn, labels)
		if err != nil {
			return "", err
		}

		fmt.Fprintf(&buf, "<div class=\"turn turn-%s\"><h3>%s</h3>", turn.Role, html.EscapeString(label))
		if err := getMarkdown().Convert([]byte(content), &buf); err != nil {
			return "", fmt.Errorf("failed to render %s turn: %w", turn.Role, err)
		}
		buf.WriteString("</div>\n")
	}

	return getPolicy().Sanitize(buf.String()), nil
}

// section returns the heading and body of one turn. Only turns with
// types.RoleCheckpoint have their header parsed; a user turn that quotes a
// checkpoint header is rendered as written.
func section(turn types.Turn, labels compaction.RoleLabels) (string, string, error) {
	if turn.Role == types.RoleCheckpoint {
		if n, summary, ok := compaction.ParseCheckpoint(turn.Content); ok && n > 0 {
			return fmt.Sprintf("%s (%d messages)", labels.Checkpoint, n), summary, nil
		}
	}

	label, err := labels.Label(turn.Role)
	if err != nil {
		return "", "", err
	}
	return label, turn.Content, nil
}

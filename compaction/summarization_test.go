package compaction

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"
)

const streamBody = `event: message_start
data: {"type":"message_start","message":{"id":"msg_1","type":"message","role":"assistant","model":"test-model","content":[],"stop_reason":null,"stop_sequence":null,"usage":{"input_tokens":10,"output_tokens":1}}}

event: content_block_start
data: {"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}

event: content_block_delta
data: {"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"They talked "}}

event: content_block_delta
data: {"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"about tea."}}

event: content_block_stop
data: {"type":"content_block_stop","index":0}

event: message_delta
data: {"type":"message_delta","delta":{"stop_reason":"end_turn","stop_sequence":null},"usage":{"output_tokens":5}}

event: message_stop
data: {"type":"message_stop"}

`

func TestAnthropicSummarizer_Summarize(t *testing.T) {
	var gotBody string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			http.NotFound(w, r)
			return
		}
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)

		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		_, _ = fmt.Fprint(w, streamBody)
	})

	s := NewAnthropicSummarizer(client, "test-model", 0)
	summary, err := s.Summarize(context.Background(), "User: tea?\n\nAssistant: green.")
	if err != nil {
		t.Fatalf("Summarize failed: %v", err)
	}
	if summary != "They talked about tea." {
		t.Errorf("summary = %q", summary)
	}
	if !strings.Contains(gotBody, `User: tea?`) {
		t.Errorf("request body does not carry the transcript: %s", gotBody)
	}
	if !strings.Contains(gotBody, `"max_tokens":1024`) {
		t.Errorf("request body missing default max_tokens: %s", gotBody)
	}
}

func TestAnthropicSummarizer_Errors(t *testing.T) {
	t.Run("nil client", func(t *testing.T) {
		s := NewAnthropicSummarizer(nil, "", 0)
		if _, err := s.Summarize(context.Background(), "x"); !errors.Is(err, ErrSummarizationFailed) {
			t.Errorf("Summarize error = %v, want ErrSummarizationFailed", err)
		}
	})

	t.Run("api error", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, `{"type":"error","error":{"type":"overloaded_error","message":"busy"}}`, http.StatusBadRequest)
		})
		s := NewAnthropicSummarizer(client, "test-model", 64)
		if _, err := s.Summarize(context.Background(), "x"); !errors.Is(err, ErrSummarizationFailed) {
			t.Errorf("Summarize error = %v, want ErrSummarizationFailed", err)
		}
	})
}

func TestAnthropicSummarizer_Defaults(t *testing.T) {
	s := NewAnthropicSummarizer(nil, "", -1)
	if s.Model() != DefaultSummarizerModel {
		t.Errorf("Model() = %q, want %q", s.Model(), DefaultSummarizerModel)
	}
	if s.maxTokens != DefaultSummarizerMaxTokens {
		t.Errorf("maxTokens = %d, want %d", s.maxTokens, DefaultSummarizerMaxTokens)
	}
	if s.WithPromptTemplate("Sum: "+ConversationPlaceholder).promptTemplate != "Sum: "+ConversationPlaceholder {
		t.Error("WithPromptTemplate did not replace the template")
	}
}

package supervisor

import (
	"testing"

	"intercom/internal/model"
)

func TestSummarizeRecognizesToolUse(t *testing.T) {
	item := Summarize(`{"type":"tool_use","tool":"Read","input":"main.go"}`)
	if item.Kind != model.FeedbackToolUse {
		t.Fatalf("expected tool_use kind, got %v", item.Kind)
	}
	if item.Text != "reading main.go" {
		t.Fatalf("unexpected summary: %q", item.Text)
	}
}

func TestSummarizeUnknownToolFallsBackToGeneric(t *testing.T) {
	item := Summarize(`{"type":"tool_use","tool":"WebFetch","input":"https://example.com"}`)
	if item.Text != "WebFetch(https://example.com)" {
		t.Fatalf("unexpected summary: %q", item.Text)
	}
}

func TestSummarizePlainLineFallsBackToText(t *testing.T) {
	item := Summarize("not json at all")
	if item.Kind != model.FeedbackText || item.Text != "not json at all" {
		t.Fatalf("unexpected item: %+v", item)
	}
}

func TestSummarizeTruncatesLongText(t *testing.T) {
	long := make([]byte, 200)
	for i := range long {
		long[i] = 'a'
	}
	item := Summarize(string(long))
	if len(item.Text) != maxSummaryLen {
		t.Fatalf("expected truncated length %d, got %d", maxSummaryLen, len(item.Text))
	}
}

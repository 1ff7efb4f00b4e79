package ai

import (
	"strings"
	"testing"

	"github.com/storydesk/storydesk/internal/types"
)

func TestParse_DirectJSON(t *testing.T) {
	result := Parse[types.ResolverResponse](`{"decision": "NEW", "reasoning": "different event"}`, "")

	if !result.Success {
		t.Fatalf("Expected successful parse, got error: %s", result.Error)
	}
	if result.Data.Decision != types.DecisionNew {
		t.Errorf("Expected decision NEW, got %q", result.Data.Decision)
	}
}

func TestParse_EmptyInput(t *testing.T) {
	result := Parse[types.ResolverResponse]("  ", "")

	if result.Success {
		t.Error("Expected parse to fail on empty input")
	}
	if result.Error != "empty input" {
		t.Errorf("Expected 'empty input' error, got: %s", result.Error)
	}
}

func TestParse_WithContext(t *testing.T) {
	result := Parse[types.ResolverResponse]("not json at all", "resolver response")

	if result.Success {
		t.Fatal("Expected parse to fail")
	}
	if !strings.HasPrefix(result.Error, "resolver response: ") {
		t.Errorf("Expected error prefixed with context, got: %s", result.Error)
	}
}

func TestParse_ModelResponses(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		decision types.ResolverDecision
	}{
		{
			name:     "json fence",
			input:    "```json\n{\"decision\": \"DUPLICATE\", \"reasoning\": \"same\"}\n```",
			decision: types.DecisionDuplicate,
		},
		{
			name:     "bare fence",
			input:    "```\n{\"decision\": \"NEW\"}\n```",
			decision: types.DecisionNew,
		},
		{
			name: "preamble and trailing prose",
			input: "Here is my assessment:\n\n```json\n" +
				`{"decision": "UPDATE", "reasoning": "victim count rose", "update": {"summary": "s", "content": "c", "sources": [{"url": "https://a.example/x", "title": "x"}]}}` +
				"\n```\n\nLet me know if you need more.",
			decision: types.DecisionUpdate,
		},
		{
			name:     "trailing commas",
			input:    `{"decision": "DUPLICATE", "reasoning": "same facts",}`,
			decision: types.DecisionDuplicate,
		},
		{
			name:     "unquoted keys",
			input:    `{decision: "NEW", reasoning: "unrelated"}`,
			decision: types.DecisionNew,
		},
		{
			name:     "line comment",
			input:    "{\n  // model chatter\n  \"decision\": \"NEW\"\n}",
			decision: types.DecisionNew,
		},
		{
			name:     "object inside prose without fences",
			input:    `I think {"decision": "DUPLICATE", "reasoning": "it's the same report"} is right.`,
			decision: types.DecisionDuplicate,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := Parse[types.ResolverResponse](tt.input, "")
			if !result.Success {
				t.Fatalf("Expected successful parse, got error: %s", result.Error)
			}
			if result.Data.Decision != tt.decision {
				t.Errorf("Expected decision %s, got %q", tt.decision, result.Data.Decision)
			}
		})
	}
}

func TestParse_KeepsURLsAndApostrophes(t *testing.T) {
	input := "```json\n{\"decision\": \"UPDATE\", \"reasoning\": \"officials' new count\", " +
		"\"update\": {\"sources\": [{\"url\": \"https://b.example/breach\", \"title\": \"t\"}],}}\n```"

	result := Parse[types.ResolverResponse](input, "")
	if !result.Success {
		t.Fatalf("Expected successful parse, got error: %s", result.Error)
	}
	if result.Data.Reasoning != "officials' new count" {
		t.Errorf("Reasoning mangled: %q", result.Data.Reasoning)
	}
	if result.Data.Update == nil || result.Data.Update.Sources[0].URL != "https://b.example/breach" {
		t.Errorf("Source URL mangled: %+v", result.Data.Update)
	}
}

func TestParse_SizeLimit(t *testing.T) {
	result := Parse[types.ResolverResponse](strings.Repeat("x", maxResponseSize+1), "")
	if result.Success {
		t.Fatal("Expected oversized input to fail")
	}
	if !strings.Contains(result.Error, "size limit") {
		t.Errorf("Expected size limit error, got: %s", result.Error)
	}
}

func TestRemoveCodeFences(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"```json\n{\"a\": 1}\n```", `{"a": 1}`},
		{"```{\"a\": 1}```", `{"a": 1}`},
		{"`{\"a\": 1}`", `{"a": 1}`},
		{`{"a": 1}`, `{"a": 1}`},
	}

	for _, tt := range tests {
		if got := removeCodeFences(tt.input); got != tt.expected {
			t.Errorf("removeCodeFences(%q) = %q, want %q", tt.input, got, tt.expected)
		}
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 10); got != "short" {
		t.Errorf("Expected unchanged string, got %q", got)
	}
	if got := truncate("a long response body", 6); got != "a long..." {
		t.Errorf("Expected truncated string, got %q", got)
	}
}

package ai

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/storydesk/storydesk/internal/types"
)

// maxPromptBody bounds how much of each item's body goes into a prompt, in bytes
const maxPromptBody = 6000

const systemPrompt = `You are an editor deduplicating a news desk. You compare a newly arrived item
with the most similar story already published and decide what the new item is.
You answer with a single JSON object and nothing else.`

// buildResolutionPrompt asks whether candidate is new, a duplicate of matched,
// or an update carrying new information about it.
func buildResolutionPrompt(candidate, matched *types.ContentItem) string {
	return fmt.Sprintf(`Compare the NEW ARRIVAL with the PUBLISHED STORY.

PUBLISHED STORY (ingested %s):
%s
Sources: %s

NEW ARRIVAL (ingested %s):
%s
Sources: %s

Decide exactly one of:
- "NEW": a different event or a different story that merely shares vocabulary.
- "DUPLICATE": the same event with no material new facts. Rewording, a different outlet or a
  different angle on the same facts is still a duplicate.
- "UPDATE": the same developing story with material new facts (casualty or victim counts,
  attribution, official statements, arrests, outcomes) that readers of the published story
  should be told about.

Respond with JSON in this exact shape:
{
  "decision": "NEW" | "DUPLICATE" | "UPDATE",
  "reasoning": "one or two sentences explaining the decision",
  "update": {
    "timestamp": "RFC3339 time the new information was reported, or empty",
    "summary": "%d-%d characters: what changed",
    "content": "%d-%d characters: the new information, written as an update paragraph",
    "sources": [{"url": "source url", "title": "source title"}],
    "severity_change": "increased" | "decreased" | "unchanged"
  }
}

Include "update" only when the decision is "UPDATE". Its sources must be taken from the new
arrival's sources and must not be empty. Respect the character ranges exactly.`,
		matched.IngestedAt.UTC().Format("2006-01-02 15:04 MST"),
		promptText(matched),
		formatSources(matched.Sources),
		candidate.IngestedAt.UTC().Format("2006-01-02 15:04 MST"),
		promptText(candidate),
		formatSources(candidate.Sources),
		types.UpdateSummaryMin, types.UpdateSummaryMax,
		types.UpdateContentMin, types.UpdateContentMax,
	)
}

// buildFeedbackPrompt repeats the question with the reason the previous answer was rejected
func buildFeedbackPrompt(candidate, matched *types.ContentItem, feedback string) string {
	return buildResolutionPrompt(candidate, matched) + "\n\nIMPORTANT: " + strings.TrimSpace(feedback)
}

func promptText(item *types.ContentItem) string {
	trimmed := *item
	trimmed.Body = safeTruncateString(item.Body, maxPromptBody)
	text := trimmed.FullText()
	if len(trimmed.Body) < len(item.Body) {
		text += " [truncated]"
	}
	return text
}

func formatSources(sources []types.Source) string {
	if len(sources) == 0 {
		return "(none)"
	}
	parts := make([]string, 0, len(sources))
	for _, src := range sources {
		label := src.URL
		if src.Title != "" {
			label = fmt.Sprintf("%s (%s)", src.Title, src.URL)
		}
		if src.Publisher != "" {
			label += " - " + src.Publisher
		}
		parts = append(parts, label)
	}
	return strings.Join(parts, "; ")
}

// safeTruncateString truncates to maxLen bytes without splitting a UTF-8 sequence
func safeTruncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	truncated := s[:maxLen]
	for i := 0; i < utf8.UTFMax && len(truncated) > 0; i++ {
		if utf8.ValidString(truncated) {
			return truncated
		}
		truncated = truncated[:len(truncated)-1]
	}
	return ""
}

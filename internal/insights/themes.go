// Package insights turns a cleaned week of reviews into themes and then into
// the synthesized weekly digest, via an LLM chat completions endpoint. The
// model is asked for strict JSON; responses may arrive fenced or wrapped in
// prose, and all structural limits are enforced locally rather than trusted.
package insights

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"reviewpulse/internal/external"
	"reviewpulse/internal/types"
)

// maxThemes caps how many themes one week of reviews may produce.
const maxThemes = 5

const themeSystemPrompt = "You are a helpful assistant that analyzes user reviews and identifies themes. Always respond with valid JSON only."

// ThemeEngine identifies recurring themes in a week of cleaned reviews.
type ThemeEngine struct {
	llm    external.LLMClient
	logger *slog.Logger
}

// NewThemeEngine creates a ThemeEngine. A nil logger falls back to
// slog.Default().
func NewThemeEngine(llm external.LLMClient, logger *slog.Logger) *ThemeEngine {
	if logger == nil {
		logger = slog.Default()
	}
	return &ThemeEngine{llm: llm, logger: logger}
}

// themeResponse is the JSON shape the model is asked to return.
type themeResponse struct {
	Theme           string   `json:"theme"`
	KeyPoints       []string `json:"key_points"`
	CandidateQuotes []string `json:"candidate_quotes"`
}

// IdentifyThemes asks the model for up to five themes covering the given
// reviews. Model or parse failures map to ErrCodeSummarizationFailed.
func (e *ThemeEngine) IdentifyThemes(ctx context.Context, items []types.FeedbackItem) ([]types.Theme, error) {
	if len(items) == 0 {
		return nil, nil
	}

	prompt := buildThemePrompt(items)

	raw, err := e.llm.Complete(ctx, themeSystemPrompt, prompt)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeSummarizationFailed, "theme identification call failed", err)
	}

	var parsed []themeResponse
	if err := json.Unmarshal(extractJSON(raw), &parsed); err != nil {
		return nil, types.NewAppError(types.ErrCodeSummarizationFailed, "theme response was not valid JSON", err)
	}

	themes := make([]types.Theme, 0, len(parsed))
	for _, t := range parsed {
		name := strings.TrimSpace(t.Theme)
		if name == "" {
			continue
		}
		themes = append(themes, types.Theme{
			Name:      name,
			KeyPoints: trimAll(t.KeyPoints),
			Quotes:    trimAll(t.CandidateQuotes),
		})
		if len(themes) == maxThemes {
			break
		}
	}

	e.logger.InfoContext(ctx, "identified themes", "reviews", len(items), "themes", len(themes))
	return themes, nil
}

func buildThemePrompt(items []types.FeedbackItem) string {
	var b strings.Builder
	for _, item := range items {
		fmt.Fprintf(&b, "- [%d/5]", item.Rating)
		if item.Title != "" {
			fmt.Fprintf(&b, " %s:", item.Title)
		}
		fmt.Fprintf(&b, " %s\n", item.Text)
	}

	return fmt.Sprintf(`You are analyzing %d app reviews to identify common themes.

REVIEWS:
%s
TASK:
Identify up to %d main themes from these reviews. For each theme:
1. Provide a concise theme name (2-4 words)
2. List 2-4 key points that summarize the theme
3. Select 2-3 representative quotes from the reviews

RULES:
- Keep everything concise and factual
- NO marketing language or fluff
- Focus on user experiences and feedback
- Themes should be specific and actionable
- Quotes must be exact from the reviews (or very close paraphrases)

OUTPUT FORMAT (JSON array):
[
  {
    "theme": "Theme name",
    "key_points": ["Point 1", "Point 2", "Point 3"],
    "candidate_quotes": ["Quote 1", "Quote 2"]
  },
  ...
]

Return ONLY valid JSON. No markdown, no explanations, just the JSON array.`,
		len(items), b.String(), maxThemes)
}

// extractJSON strips markdown code fences and any leading prose the model
// emits despite instructions, returning the first JSON value in the text.
func extractJSON(raw string) []byte {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if idx := strings.LastIndex(s, "```"); idx >= 0 {
			s = s[:idx]
		}
		s = strings.TrimSpace(s)
	}
	start := strings.IndexAny(s, "[{")
	if start > 0 {
		s = s[start:]
	}
	return []byte(s)
}

func trimAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

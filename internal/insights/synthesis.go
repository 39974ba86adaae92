package insights

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"reviewpulse/internal/external"
	"reviewpulse/internal/types"
)

// Digest structural limits. The word target keeps the weekly note scannable
// in an email client without truncation.
const (
	MaxDigestThemes  = 3
	MaxDigestQuotes  = 3
	MaxDigestActions = 3
	MaxDigestWords   = 180
	MinDigestWords   = 120
)

const synthesisSystemPrompt = "You are a helpful assistant that creates executive summaries. Always respond with valid JSON only."

// DigestSynthesizer condenses identified themes into the weekly digest.
type DigestSynthesizer struct {
	llm    external.LLMClient
	logger *slog.Logger
}

// NewDigestSynthesizer creates a DigestSynthesizer. A nil logger falls back
// to slog.Default().
func NewDigestSynthesizer(llm external.LLMClient, logger *slog.Logger) *DigestSynthesizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &DigestSynthesizer{llm: llm, logger: logger}
}

// digestResponse is the JSON shape the model is asked to return.
type digestResponse struct {
	Title    string `json:"title"`
	Overview string `json:"overview"`
	Themes   []struct {
		Name    string `json:"name"`
		Summary string `json:"summary"`
	} `json:"themes"`
	Quotes  []string `json:"quotes"`
	Actions []string `json:"actions"`
}

// Synthesize produces the weekly digest from identified themes. Structural
// limits (theme/quote/action counts, word budget) are enforced locally after
// parsing; an over-budget response is compressed rather than rejected. Model
// or parse failures map to ErrCodeSynthesisFailed.
func (s *DigestSynthesizer) Synthesize(ctx context.Context, appName string, themes []types.Theme) (types.Digest, error) {
	if len(themes) == 0 {
		return types.Digest{}, types.NewAppError(types.ErrCodeSynthesisFailed, "no themes to synthesize", nil)
	}

	prompt := buildSynthesisPrompt(appName, rankThemes(themes))

	raw, err := s.llm.Complete(ctx, synthesisSystemPrompt, prompt)
	if err != nil {
		return types.Digest{}, types.NewAppError(types.ErrCodeSynthesisFailed, "digest synthesis call failed", err)
	}

	var parsed digestResponse
	if err := json.Unmarshal(extractJSON(raw), &parsed); err != nil {
		return types.Digest{}, types.NewAppError(types.ErrCodeSynthesisFailed, "digest response was not valid JSON", err)
	}
	if strings.TrimSpace(parsed.Title) == "" || strings.TrimSpace(parsed.Overview) == "" {
		return types.Digest{}, types.NewAppError(types.ErrCodeSynthesisFailed, "digest response missing title or overview", nil)
	}

	digest := types.Digest{
		Title:    strings.TrimSpace(parsed.Title),
		Overview: strings.TrimSpace(parsed.Overview),
		Quotes:   capStrings(trimAll(parsed.Quotes), MaxDigestQuotes),
		Actions:  capStrings(trimAll(parsed.Actions), MaxDigestActions),
	}
	for _, t := range parsed.Themes {
		if name := strings.TrimSpace(t.Name); name != "" {
			digest.Themes = append(digest.Themes, types.DigestTheme{
				Name:    name,
				Summary: strings.TrimSpace(t.Summary),
			})
		}
		if len(digest.Themes) == MaxDigestThemes {
			break
		}
	}

	digest.WordCount = countDigestWords(digest)
	if digest.WordCount > MaxDigestWords {
		digest = compressDigest(digest)
		s.logger.InfoContext(ctx, "compressed digest to word budget", "words", digest.WordCount)
	}

	s.logger.InfoContext(ctx, "synthesized digest",
		"app", appName,
		"themes", len(digest.Themes),
		"words", digest.WordCount,
	)
	return digest, nil
}

// rankThemes orders themes by richness (key points then quotes) so the
// prompt presents the strongest candidates first.
func rankThemes(themes []types.Theme) []types.Theme {
	ranked := make([]types.Theme, len(themes))
	copy(ranked, themes)
	sort.SliceStable(ranked, func(i, j int) bool {
		if len(ranked[i].KeyPoints) != len(ranked[j].KeyPoints) {
			return len(ranked[i].KeyPoints) > len(ranked[j].KeyPoints)
		}
		return len(ranked[i].Quotes) > len(ranked[j].Quotes)
	})
	return ranked
}

func buildSynthesisPrompt(appName string, themes []types.Theme) string {
	var section strings.Builder
	for i, t := range themes {
		fmt.Fprintf(&section, "%d. %s\n", i+1, t.Name)
		for _, p := range t.KeyPoints {
			fmt.Fprintf(&section, "  - %s\n", p)
		}
		if len(t.Quotes) > 0 {
			n := len(t.Quotes)
			if n > 2 {
				n = 2
			}
			fmt.Fprintf(&section, "  Sample Quotes: %s\n", strings.Join(t.Quotes[:n], ", "))
		}
	}

	appContext := ""
	if appName != "" {
		appContext = " for " + appName
	}

	return fmt.Sprintf(`You are creating a Weekly Product Pulse%s based on user reviews.

THEMES IDENTIFIED:
%s
TASK:
Create a concise, executive-friendly Weekly Product Pulse that synthesizes these themes.

REQUIREMENTS:
- Total output MUST be %d-%d words
- Executive-friendly, neutral tone (no marketing language)
- Focus on actionable insights
- No PII (personal information already removed)
- Be factual and data-driven

OUTPUT FORMAT (JSON):
{
  "title": "Concise title (5-10 words)",
  "overview": "Brief overview (2-3 sentences, ~30-40 words)",
  "themes": [
    {"name": "Theme name", "summary": "Brief summary (1-2 sentences)"},
    ...
  ],
  "quotes": ["Representative quote 1", "Quote 2", "Quote 3"],
  "actions": ["Actionable insight 1", "Action 2", "Action 3"]
}

CONSTRAINTS:
- Maximum %d themes (select most impactful)
- Maximum %d quotes (most representative)
- Maximum %d actions (most actionable)
- Keep everything concise and factual

Return ONLY valid JSON. No markdown, no explanations, just the JSON object.`,
		appContext, section.String(),
		MinDigestWords, MaxDigestWords,
		MaxDigestThemes, MaxDigestQuotes, MaxDigestActions)
}

// compressDigest shrinks an over-budget digest while preserving structure:
// overview and theme summaries are truncated first, then quotes.
func compressDigest(d types.Digest) types.Digest {
	d.Overview = truncateWords(d.Overview, 40)
	for i := range d.Themes {
		d.Themes[i].Summary = truncateWords(d.Themes[i].Summary, 20)
	}
	d.WordCount = countDigestWords(d)

	if d.WordCount > MaxDigestWords {
		for i := range d.Quotes {
			d.Quotes[i] = truncateWords(d.Quotes[i], 15)
		}
		d.WordCount = countDigestWords(d)
	}
	return d
}

func countDigestWords(d types.Digest) int {
	n := wordCount(d.Title) + wordCount(d.Overview)
	for _, t := range d.Themes {
		n += wordCount(t.Name) + wordCount(t.Summary)
	}
	for _, q := range d.Quotes {
		n += wordCount(q)
	}
	for _, a := range d.Actions {
		n += wordCount(a)
	}
	return n
}

func wordCount(s string) int {
	return len(strings.Fields(s))
}

func truncateWords(s string, max int) string {
	words := strings.Fields(s)
	if len(words) <= max {
		return s
	}
	return strings.Join(words[:max], " ") + "..."
}

func capStrings(in []string, max int) []string {
	if len(in) > max {
		return in[:max]
	}
	return in
}

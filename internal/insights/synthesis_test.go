package insights

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reviewpulse/internal/types"
)

func sampleThemes() []types.Theme {
	return []types.Theme{
		{Name: "Battery Drain", KeyPoints: []string{"worse after update"}, Quotes: []string{"battery dies in hours"}},
		{
			Name:      "Startup Crashes",
			KeyPoints: []string{"crash on launch", "affects android 15", "daily occurrence"},
			Quotes:    []string{"crashes every time", "unusable since update"},
		},
	}
}

const digestJSON = `{
  "title": "Stability Concerns Dominate the Week",
  "overview": "Crash reports spiked after the latest release and battery complaints continued. Users on newer devices are most affected.",
  "themes": [
    {"name": "Startup Crashes", "summary": "Crashes on launch are the top complaint."},
    {"name": "Battery Drain", "summary": "Battery life regressed for many users."}
  ],
  "quotes": ["crashes every time", "battery dies in hours"],
  "actions": ["Investigate the launch crash on Android 15", "Profile battery usage in the background sync"]
}`

func TestSynthesize(t *testing.T) {
	llm := &mockLLM{response: digestJSON}
	synth := NewDigestSynthesizer(llm, nil)

	digest, err := synth.Synthesize(context.Background(), "Example App", sampleThemes())
	require.NoError(t, err)

	assert.Equal(t, "Stability Concerns Dominate the Week", digest.Title)
	assert.Len(t, digest.Themes, 2)
	assert.Len(t, digest.Quotes, 2)
	assert.Len(t, digest.Actions, 2)
	assert.Equal(t, countDigestWords(digest), digest.WordCount)

	require.Len(t, llm.prompts, 1)
	prompt := llm.prompts[0]
	assert.Contains(t, prompt, "Weekly Product Pulse for Example App")
	assert.Contains(t, prompt, fmt.Sprintf("MUST be %d-%d words", MinDigestWords, MaxDigestWords))

	// The richer theme (more key points) must be presented first.
	assert.Less(t, strings.Index(prompt, "Startup Crashes"), strings.Index(prompt, "Battery Drain"))
}

func TestSynthesizeEnforcesStructuralCaps(t *testing.T) {
	llm := &mockLLM{response: `{
		"title": "Busy Week",
		"overview": "Many things happened across the product this week.",
		"themes": [
			{"name": "A", "summary": "a"}, {"name": "B", "summary": "b"},
			{"name": "C", "summary": "c"}, {"name": "D", "summary": "d"}
		],
		"quotes": ["q1", "q2", "q3", "q4", "q5"],
		"actions": ["a1", "a2", "a3", "a4"]
	}`}
	synth := NewDigestSynthesizer(llm, nil)

	digest, err := synth.Synthesize(context.Background(), "App", sampleThemes())
	require.NoError(t, err)

	assert.Len(t, digest.Themes, MaxDigestThemes)
	assert.Len(t, digest.Quotes, MaxDigestQuotes)
	assert.Len(t, digest.Actions, MaxDigestActions)
}

func TestSynthesizeCompressesOverBudgetDigest(t *testing.T) {
	longOverview := strings.Repeat("word ", 200)
	llm := &mockLLM{response: fmt.Sprintf(`{
		"title": "A Very Wordy Week",
		"overview": "%s",
		"themes": [{"name": "Verbosity", "summary": "%s"}],
		"quotes": ["%s"],
		"actions": ["trim the output"]
	}`, longOverview, longOverview, strings.Repeat("quote ", 50))}
	synth := NewDigestSynthesizer(llm, nil)

	digest, err := synth.Synthesize(context.Background(), "App", sampleThemes())
	require.NoError(t, err)

	assert.LessOrEqual(t, digest.WordCount, MaxDigestWords)
	assert.NotEmpty(t, digest.Overview)
	assert.True(t, strings.HasSuffix(digest.Overview, "..."))
}

func TestSynthesizeRejectsMissingTitle(t *testing.T) {
	llm := &mockLLM{response: `{"title": " ", "overview": "something happened"}`}
	synth := NewDigestSynthesizer(llm, nil)

	_, err := synth.Synthesize(context.Background(), "App", sampleThemes())
	require.Error(t, err)
	assert.Equal(t, types.ErrCodeSynthesisFailed, types.CodeOf(err))
}

func TestSynthesizeNoThemes(t *testing.T) {
	llm := &mockLLM{response: digestJSON}
	synth := NewDigestSynthesizer(llm, nil)

	_, err := synth.Synthesize(context.Background(), "App", nil)
	require.Error(t, err)
	assert.Equal(t, types.ErrCodeSynthesisFailed, types.CodeOf(err))
	assert.Empty(t, llm.prompts)
}

func TestSynthesizeCallFailure(t *testing.T) {
	llm := &mockLLM{err: errors.New("rate limited")}
	synth := NewDigestSynthesizer(llm, nil)

	_, err := synth.Synthesize(context.Background(), "App", sampleThemes())
	require.Error(t, err)
	assert.Equal(t, types.ErrCodeSynthesisFailed, types.CodeOf(err))
}

func TestSynthesizeGarbageResponse(t *testing.T) {
	llm := &mockLLM{response: "no json here at all"}
	synth := NewDigestSynthesizer(llm, nil)

	_, err := synth.Synthesize(context.Background(), "App", sampleThemes())
	require.Error(t, err)
	assert.Equal(t, types.ErrCodeSynthesisFailed, types.CodeOf(err))
}

func TestTruncateWords(t *testing.T) {
	assert.Equal(t, "one two three", truncateWords("one two three", 5))
	assert.Equal(t, "one two...", truncateWords("one two three four", 2))
}

func TestRankThemes(t *testing.T) {
	themes := []types.Theme{
		{Name: "Thin"},
		{Name: "Rich", KeyPoints: []string{"a", "b", "c"}},
		{Name: "Middle", KeyPoints: []string{"a"}, Quotes: []string{"q"}},
	}

	ranked := rankThemes(themes)
	assert.Equal(t, "Rich", ranked[0].Name)
	assert.Equal(t, "Middle", ranked[1].Name)
	assert.Equal(t, "Thin", ranked[2].Name)

	// The input slice is untouched.
	assert.Equal(t, "Thin", themes[0].Name)
}

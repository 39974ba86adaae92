// Package cleaning normalizes extracted review text before summarization:
// HTML and symbol cleanup, PII scrubbing, near-duplicate removal, length
// filtering, and per-rating sampling. All transforms are deterministic so a
// retried batch produces the same input to summarization.
package cleaning

import (
	"html"
	"regexp"
	"strings"

	"reviewpulse/internal/types"
)

// Defaults mirror the documented cleaning policy.
const (
	// DefaultDuplicateThreshold is the token-set Jaccard similarity at or
	// above which two reviews are treated as duplicates.
	DefaultDuplicateThreshold = 0.9

	// DefaultSamplesPerRating caps how many reviews per star rating survive
	// sampling.
	DefaultSamplesPerRating = 15

	// minCleanedLength drops reviews whose cleaned text carries no signal.
	minCleanedLength = 15
)

var (
	emailPattern = regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`)

	// URLs: scheme or www prefixed, plus bare domains on common TLDs.
	urlPattern = regexp.MustCompile(`(?i)\b((?:https?://|www\.)\S+|[A-Za-z0-9.-]+\.(?:com|net|org|io|ai|co|in|uk|de|fr|it|es|ru|cn|br|jp|kr)(?:/\S*)?)`)

	// Very approximate: optional country code then 7 to 12 digits with
	// separators. Conservative detection beats leaking an obvious number.
	phonePattern = regexp.MustCompile(`(?:(?:\+|00)\d{1,3}[\s\-()]*)?(?:\d[\s\-()]*){7,12}`)

	handlePattern = regexp.MustCompile(`@[A-Za-z0-9_]+`)
	idPattern     = regexp.MustCompile(`(?i)\b(?:id|user|uid|handle)[:\s]+[A-Za-z0-9_]{3,}\b`)

	// Name-like tokens in explicit contexts ("Name: Priya", "by John Smith").
	nameContextPattern = regexp.MustCompile(`(?i)\b(name|by)[:\s]+[A-Z][a-z]+(?:\s+[A-Z][a-z]+)?`)

	htmlTagPattern    = regexp.MustCompile(`<[^>]+>`)
	symbolPattern     = regexp.MustCompile(`[\p{So}\p{Sk}\p{Cs}]`)
	multiSpacePattern = regexp.MustCompile(`\s+`)
	spaceBeforePunct  = regexp.MustCompile(`\s+([!?.,;:])`)

	quoteReplacer = strings.NewReplacer(
		"“", `"`, "”", `"`, "„", `"`,
		"‘", "'", "’", "'", "‚", "'",
		"«", `"`, "»", `"`,
	)

	tokenSplitPattern = regexp.MustCompile(`[^a-z0-9]+`)
)

// Cleaner applies the full normalization pipeline to a week of reviews.
type Cleaner struct {
	duplicateThreshold float64
	samplesPerRating   int
}

// New creates a Cleaner. Zero values select the documented defaults.
func New(duplicateThreshold float64, samplesPerRating int) *Cleaner {
	if duplicateThreshold <= 0 || duplicateThreshold > 1 {
		duplicateThreshold = DefaultDuplicateThreshold
	}
	if samplesPerRating <= 0 {
		samplesPerRating = DefaultSamplesPerRating
	}
	return &Cleaner{
		duplicateThreshold: duplicateThreshold,
		samplesPerRating:   samplesPerRating,
	}
}

// CleanText normalizes a piece of review text: decode HTML entities, strip
// tags, drop URLs, remove emoji and other symbols, normalize quotes and
// whitespace.
func CleanText(text string) string {
	if text == "" {
		return ""
	}

	text = html.UnescapeString(text)
	text = htmlTagPattern.ReplaceAllString(text, " ")
	text = urlPattern.ReplaceAllString(text, " [link removed] ")
	text = symbolPattern.ReplaceAllString(text, "")
	text = quoteReplacer.Replace(text)
	text = multiSpacePattern.ReplaceAllString(text, " ")
	text = strings.TrimSpace(text)
	text = spaceBeforePunct.ReplaceAllString(text, "$1")
	return text
}

// ScrubPII rewrites text to remove obvious PII while preserving meaning:
// emails, phone numbers, URLs, @handles, explicit user IDs, and name-like
// tokens in explicit contexts.
func ScrubPII(text string) string {
	if text == "" {
		return ""
	}

	text = emailPattern.ReplaceAllString(text, "[email removed]")
	text = urlPattern.ReplaceAllString(text, "[link removed]")
	text = phonePattern.ReplaceAllString(text, "[phone removed]")
	text = handlePattern.ReplaceAllString(text, "the user")
	text = idPattern.ReplaceAllString(text, "[id removed]")
	text = nameContextPattern.ReplaceAllStringFunc(text, func(m string) string {
		sep := strings.IndexAny(m, ": \t")
		if sep < 0 {
			return "the user"
		}
		return m[:sep+1] + " the user"
	})

	return strings.TrimSpace(multiSpacePattern.ReplaceAllString(text, " "))
}

// HasPII reports whether the text contains anything ScrubPII would rewrite.
func HasPII(text string) bool {
	return emailPattern.MatchString(text) ||
		urlPattern.MatchString(text) ||
		phonePattern.MatchString(text) ||
		handlePattern.MatchString(text) ||
		idPattern.MatchString(text) ||
		nameContextPattern.MatchString(text)
}

// Process runs the full pipeline over extracted reviews, preserving input
// order (newest first): scrub, clean, length-filter, near-duplicate removal,
// then per-rating sampling.
func (c *Cleaner) Process(items []types.FeedbackItem) []types.FeedbackItem {
	var kept []types.FeedbackItem
	var seenTokens []map[string]struct{}

	for _, item := range items {
		item.Title = CleanText(ScrubPII(item.Title))
		item.Text = CleanText(ScrubPII(item.Text))
		if len(item.Text) < minCleanedLength {
			continue
		}

		tokens := tokenSet(item.Text)
		if len(tokens) == 0 {
			continue
		}

		duplicate := false
		for _, existing := range seenTokens {
			if jaccard(tokens, existing) >= c.duplicateThreshold {
				duplicate = true
				break
			}
		}
		if duplicate {
			continue
		}

		seenTokens = append(seenTokens, tokens)
		kept = append(kept, item)
	}

	return c.sampleByRating(kept)
}

// sampleByRating keeps at most samplesPerRating reviews per star rating,
// preserving order so the newest reviews win.
func (c *Cleaner) sampleByRating(items []types.FeedbackItem) []types.FeedbackItem {
	counts := make(map[int]int, 5)
	sampled := make([]types.FeedbackItem, 0, len(items))
	for _, item := range items {
		if counts[item.Rating] >= c.samplesPerRating {
			continue
		}
		counts[item.Rating]++
		sampled = append(sampled, item)
	}
	return sampled
}

// tokenSet lowercases and splits text into its unique word tokens.
func tokenSet(text string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, tok := range tokenSplitPattern.Split(strings.ToLower(text), -1) {
		if tok != "" {
			set[tok] = struct{}{}
		}
	}
	return set
}

// jaccard computes token-set Jaccard similarity in [0, 1].
func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	inter := 0
	for tok := range a {
		if _, ok := b[tok]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

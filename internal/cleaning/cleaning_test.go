package cleaning

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reviewpulse/internal/types"
)

func TestCleanText(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "html entities and tags",
			in:   "Great app &amp; works <b>well</b>",
			want: "Great app & works well",
		},
		{
			name: "url replaced",
			in:   "see https://example.com/help for details",
			want: "see [link removed] for details",
		},
		{
			name: "emoji stripped",
			in:   "love it \U0001F600\U0001F44D so much",
			want: "love it so much",
		},
		{
			name: "smart quotes normalized",
			in:   "the app said “error” again",
			want: `the app said "error" again`,
		},
		{
			name: "whitespace collapsed",
			in:   "too   many\n\nspaces  here .",
			want: "too many spaces here.",
		},
		{
			name: "empty",
			in:   "",
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CleanText(tt.in))
		})
	}
}

func TestScrubPII(t *testing.T) {
	tests := []struct {
		name        string
		in          string
		wantGone    []string
		wantPresent []string
	}{
		{
			name:        "email address",
			in:          "contact me at priya.sharma@gmail.com please",
			wantGone:    []string{"priya.sharma@gmail.com"},
			wantPresent: []string{"[email removed]"},
		},
		{
			name:        "phone number",
			in:          "call +91 98765 43210 for refund",
			wantGone:    []string{"98765"},
			wantPresent: []string{"[phone removed]"},
		},
		{
			name:        "handle",
			in:          "thanks @devteam for fixing",
			wantGone:    []string{"@devteam"},
			wantPresent: []string{"the user"},
		},
		{
			name:        "explicit user id",
			in:          "my user: abc123 is blocked",
			wantGone:    []string{"abc123"},
			wantPresent: []string{"[id removed]"},
		},
		{
			name:        "name in context",
			in:          "Name: Priya had the same issue",
			wantGone:    []string{"Priya"},
			wantPresent: []string{"the user"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ScrubPII(tt.in)
			for _, s := range tt.wantGone {
				assert.NotContains(t, got, s)
			}
			for _, s := range tt.wantPresent {
				assert.Contains(t, got, s)
			}
		})
	}
}

func TestHasPII(t *testing.T) {
	assert.True(t, HasPII("mail me at a@b.com"))
	assert.True(t, HasPII("visit www.example.com now"))
	assert.False(t, HasPII("the app crashes on startup every time"))
}

func reviewAt(rating int, text string, age time.Duration) types.FeedbackItem {
	return types.FeedbackItem{
		Rating: rating,
		Text:   text,
		Date:   time.Date(2026, time.August, 16, 12, 0, 0, 0, time.UTC).Add(-age),
	}
}

func TestProcessDropsShortReviews(t *testing.T) {
	c := New(0, 0)

	out := c.Process([]types.FeedbackItem{
		reviewAt(5, "ok", 0),
		reviewAt(5, "good", 0),
		reviewAt(5, "this review is long enough to carry signal", 0),
	})

	require.Len(t, out, 1)
	assert.Contains(t, out[0].Text, "long enough")
}

func TestProcessRemovesNearDuplicates(t *testing.T) {
	c := New(0.9, 15)

	out := c.Process([]types.FeedbackItem{
		reviewAt(1, "the app crashes every time I open it on my phone", 0),
		reviewAt(1, "the app crashes every time I open it on my phone!", time.Hour),
		reviewAt(1, "battery drain is terrible since the latest update arrived", 2*time.Hour),
	})

	require.Len(t, out, 2)
	assert.Contains(t, out[0].Text, "crashes")
	assert.Contains(t, out[1].Text, "battery")
}

func TestProcessKeepsDistinctReviews(t *testing.T) {
	c := New(0.9, 15)

	out := c.Process([]types.FeedbackItem{
		reviewAt(4, "the new dark mode looks fantastic on my tablet screen", 0),
		reviewAt(4, "sync between devices finally works without losing any data", time.Hour),
	})

	assert.Len(t, out, 2)
}

func TestProcessSamplesPerRatingPreservingOrder(t *testing.T) {
	c := New(0.9, 3)

	var items []types.FeedbackItem
	for i := 0; i < 10; i++ {
		items = append(items, reviewAt(5, fmt.Sprintf(
			"five star review number %d praising completely different aspect %d of the product", i, i*31),
			time.Duration(i)*time.Hour))
	}
	for i := 0; i < 2; i++ {
		items = append(items, reviewAt(1, fmt.Sprintf(
			"one star review number %d about a unique severe problem %d in the product", i, i*17),
			time.Duration(i)*time.Hour))
	}

	out := c.Process(items)

	var fives, ones []types.FeedbackItem
	for _, item := range out {
		switch item.Rating {
		case 5:
			fives = append(fives, item)
		case 1:
			ones = append(ones, item)
		}
	}

	require.Len(t, fives, 3, "per-rating cap applies")
	assert.Len(t, ones, 2, "ratings under the cap keep everything")

	// Input is newest first; the cap must keep the first (newest) entries.
	assert.Contains(t, fives[0].Text, "number 0")
	assert.Contains(t, fives[1].Text, "number 1")
	assert.Contains(t, fives[2].Text, "number 2")
}

func TestProcessScrubsTitlesAndText(t *testing.T) {
	c := New(0, 0)

	out := c.Process([]types.FeedbackItem{{
		Rating: 2,
		Title:  "refund to priya@gmail.com",
		Text:   "email me at priya@gmail.com about the refund you owe",
	}})

	require.Len(t, out, 1)
	assert.NotContains(t, out[0].Title, "priya@gmail.com")
	assert.NotContains(t, out[0].Text, "priya@gmail.com")
}

func TestProcessIsDeterministic(t *testing.T) {
	c := New(0.9, 5)
	items := []types.FeedbackItem{
		reviewAt(3, "average experience overall but the onboarding was confusing to me", 0),
		reviewAt(3, "notifications arrive hours late which defeats their entire purpose", time.Hour),
	}

	first := c.Process(items)
	second := c.Process(items)
	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i].Text, second[i].Text)
	}
}

func TestJaccard(t *testing.T) {
	a := tokenSet("the app crashes on startup")
	b := tokenSet("the app crashes on startup")
	assert.InDelta(t, 1.0, jaccard(a, b), 1e-9)

	c := tokenSet("completely unrelated words here")
	assert.Less(t, jaccard(a, c), 0.1)
}

func TestCleanTextKeepsPunctuationTight(t *testing.T) {
	got := CleanText("why does it crash ?")
	assert.False(t, strings.Contains(got, " ?"))
}

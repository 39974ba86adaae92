package extract

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reviewpulse/internal/clock"
	"reviewpulse/internal/external"
	"reviewpulse/internal/types"
)

func TestParseAppURL(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    string
		wantErr bool
	}{
		{
			name: "valid https",
			raw:  "https://play.google.com/store/apps/details?id=com.example.app",
			want: "com.example.app",
		},
		{
			name: "valid http",
			raw:  "http://play.google.com/store/apps/details?id=com.example.app&hl=en",
			want: "com.example.app",
		},
		{
			name: "host is case insensitive",
			raw:  "https://PLAY.GOOGLE.COM/store/apps/details?id=com.example.app",
			want: "com.example.app",
		},
		{
			name: "surrounding whitespace",
			raw:  "  https://play.google.com/store/apps/details?id=com.example.app \n",
			want: "com.example.app",
		},
		{
			name:    "wrong host",
			raw:     "https://apps.apple.com/store/apps/details?id=com.example.app",
			wantErr: true,
		},
		{
			name:    "wrong path",
			raw:     "https://play.google.com/store/search?q=example",
			wantErr: true,
		},
		{
			name:    "missing id parameter",
			raw:     "https://play.google.com/store/apps/details?hl=en",
			wantErr: true,
		},
		{
			name:    "bad scheme",
			raw:     "ftp://play.google.com/store/apps/details?id=com.example.app",
			wantErr: true,
		},
		{
			name:    "not a URL",
			raw:     "ht tp://play.google.com",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseAppURL(tt.raw)
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, types.ErrCodeValidationInvalidAppURL, types.CodeOf(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

// reviewsPage is a reviews page in the data-review-id shape. Reviews at
// Aug 11 and Aug 14 fall inside the Aug 10 week window; Aug 20 and Aug 8
// fall outside, one review is too short, one carries no rating, and one
// duplicates an existing review ID.
const reviewsPage = `<html><body>
<h1 itemprop="name">Example App</h1>
<div data-review-id="r1">
  <div aria-label="Rated 4 stars out of five"></div>
  <time datetime="2026-08-11">August 11, 2026</time>
  <span itemprop="reviewBody">Battery drains overnight even when the app is idle.</span>
</div>
<div data-review-id="r2">
  <div aria-label="Rated 1 star out of five"></div>
  <time datetime="2026-08-14">August 14, 2026</time>
  <span data-review-title>Crashes</span>
  <span itemprop="reviewBody">Crashes on startup every single time since the update.</span>
</div>
<div data-review-id="r2">
  <div aria-label="Rated 1 star out of five"></div>
  <time datetime="2026-08-14">August 14, 2026</time>
  <span itemprop="reviewBody">Crashes on startup every single time since the update.</span>
</div>
<div data-review-id="r3">
  <div aria-label="Rated 5 stars out of five"></div>
  <time datetime="2026-08-20">August 20, 2026</time>
  <span itemprop="reviewBody">Love the new dark mode, works great on my tablet.</span>
</div>
<div data-review-id="r4">
  <div aria-label="Rated 3 stars out of five"></div>
  <time datetime="2026-08-08">August 8, 2026</time>
  <span itemprop="reviewBody">Sync takes forever on a slow connection these days.</span>
</div>
<div data-review-id="r5">
  <div aria-label="Rated 5 stars out of five"></div>
  <time datetime="2026-08-12">August 12, 2026</time>
  <span itemprop="reviewBody">Nice app</span>
</div>
<div data-review-id="r6">
  <time datetime="2026-08-12">August 12, 2026</time>
  <span itemprop="reviewBody">No rating label on this one so it cannot be scored.</span>
</div>
</body></html>`

// testWindow is the settled week Aug 10 through Aug 16 as seen from the
// Monday Aug 24 fire instant.
func testWindow() clock.Window {
	return clock.WeekWindow(time.Date(2026, 8, 24, 8, 0, 0, 0, clock.BusinessZone()))
}

// newTestExtractor points an extractor at the given handler with retries
// disabled so failure tests return immediately.
func newTestExtractor(t *testing.T, handler http.Handler) (*PlayStoreExtractor, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	base := external.NewBaseClient(
		server.Client(),
		"playstore-test",
		external.RetryPolicy{MaxRetries: 0, MinWait: time.Millisecond, MaxWait: time.Millisecond},
		"test",
		external.WithSleepFunc(func(time.Duration) {}),
	)
	return NewPlayStoreExtractorWithBase(base, Config{BaseURL: server.URL}), server
}

func TestExtract(t *testing.T) {
	var gotPath, gotID string
	extractor, _ := newTestExtractor(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotID = r.URL.Query().Get("id")
		w.Write([]byte(reviewsPage))
	}))

	items, err := extractor.Extract(context.Background(), "com.example.app", testWindow())
	require.NoError(t, err)

	assert.Equal(t, "/store/apps/details", gotPath)
	assert.Equal(t, "com.example.app", gotID)

	// Only the two in-window, rated, long-enough reviews survive, deduped
	// by review ID and ordered newest first.
	require.Len(t, items, 2)
	assert.Equal(t, "Crashes on startup every single time since the update.", items[0].Text)
	assert.Equal(t, "Crashes", items[0].Title)
	assert.Equal(t, 1, items[0].Rating)
	assert.Equal(t, "Battery drains overnight even when the app is idle.", items[1].Text)
	assert.Equal(t, 4, items[1].Rating)
	assert.True(t, items[0].Date.After(items[1].Date))
	assert.NotEqual(t, items[0].Hash, items[1].Hash)

	// Review dates are business-zone midnights inside the window.
	zone := clock.BusinessZone()
	assert.Equal(t, time.Date(2026, 8, 14, 0, 0, 0, 0, zone), items[0].Date.In(zone))
	assert.True(t, testWindow().Contains(items[1].Date))
}

func TestExtractEmptyPage(t *testing.T) {
	extractor, _ := newTestExtractor(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><body><h1>Example App</h1></body></html>`))
	}))

	items, err := extractor.Extract(context.Background(), "com.example.app", testWindow())
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestExtractUnknownApp(t *testing.T) {
	extractor, _ := newTestExtractor(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))

	_, err := extractor.Extract(context.Background(), "com.example.gone", testWindow())
	require.Error(t, err)
	assert.Equal(t, types.ErrCodeExtractionAppUnknown, types.CodeOf(err))
}

func TestExtractUpstreamError(t *testing.T) {
	extractor, _ := newTestExtractor(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))

	_, err := extractor.Extract(context.Background(), "com.example.app", testWindow())
	require.Error(t, err)
	assert.Equal(t, types.ErrCodeExtractionUnreachable, types.CodeOf(err))
}

func TestAppName(t *testing.T) {
	extractor, _ := newTestExtractor(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><body><h1 itemprop="name"> Example App </h1></body></html>`))
	}))

	name, err := extractor.AppName(context.Background(), "com.example.app")
	require.NoError(t, err)
	assert.Equal(t, "Example App", name)
}

func TestAppNameFallsBackToFirstHeading(t *testing.T) {
	extractor, _ := newTestExtractor(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><body><h1>Plain Heading</h1></body></html>`))
	}))

	name, err := extractor.AppName(context.Background(), "com.example.app")
	require.NoError(t, err)
	assert.Equal(t, "Plain Heading", name)
}

func TestAppNameFallsBackToStoreID(t *testing.T) {
	extractor, _ := newTestExtractor(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><body><p>nothing here</p></body></html>`))
	}))

	name, err := extractor.AppName(context.Background(), "com.example.app")
	require.NoError(t, err)
	assert.Equal(t, "com.example.app", name)
}

func TestReviewHash(t *testing.T) {
	date := time.Date(2026, 8, 11, 0, 0, 0, 0, clock.BusinessZone())

	withID := ReviewHash("com.example.app", "r1", date, "some text")
	assert.Equal(t, withID, ReviewHash("com.example.app", "r1", date, "different text"),
		"review ID wins over content when present")

	byContent := ReviewHash("com.example.app", "", date, "some text")
	assert.NotEqual(t, byContent, ReviewHash("com.example.app", "", date, "other text"))
	assert.Equal(t, byContent, ReviewHash("com.example.app", "", date, "some text"))
}

// Package extract pulls user reviews for a Play Store application over a
// calendar-week window. The extractor fetches the public reviews page and
// parses the review elements; downstream cleaning owns deduplication, PII
// scrubbing, and sampling.
package extract

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"reviewpulse/internal/clock"
	"reviewpulse/internal/external"
	"reviewpulse/internal/types"
)

// playStoreBase is the default Play Store base URL.
// Overridable in tests via Config.BaseURL.
const playStoreBase = "https://play.google.com"

// minReviewLength drops reviews too short to carry signal ("good", "nice").
const minReviewLength = 15

// ParseAppURL validates a Play Store application URL and returns the store
// package ID (e.g. "com.example.app"). Accepted URLs have host
// play.google.com, path /store/apps/details, and a non-empty id parameter.
func ParseAppURL(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", types.NewAppError(types.ErrCodeValidationInvalidAppURL, "app URL is not a valid URL", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", types.NewAppError(types.ErrCodeValidationInvalidAppURL, "app URL must use http or https", nil)
	}
	if !strings.EqualFold(u.Hostname(), "play.google.com") {
		return "", types.NewAppError(types.ErrCodeValidationInvalidAppURL, "app URL must point at play.google.com", nil)
	}
	if !strings.HasPrefix(u.Path, "/store/apps/details") {
		return "", types.NewAppError(types.ErrCodeValidationInvalidAppURL, "app URL must be a store details page", nil)
	}
	storeID := u.Query().Get("id")
	if storeID == "" {
		return "", types.NewAppError(types.ErrCodeValidationInvalidAppURL, "app URL is missing the id parameter", nil)
	}
	return storeID, nil
}

// Config holds the configuration for creating a PlayStoreExtractor.
type Config struct {
	BaseURL string // Override for testing; defaults to playStoreBase
	Logger  *slog.Logger
}

// PlayStoreExtractor fetches and parses the public reviews page through
// BaseClient, inheriting the platform's circuit breaker and retry behavior.
type PlayStoreExtractor struct {
	base    *external.BaseClient
	baseURL string
	logger  *slog.Logger
}

// NewPlayStoreExtractor creates an extractor with a dedicated breaker.
func NewPlayStoreExtractor(httpClient *http.Client, cfg Config) *PlayStoreExtractor {
	base := external.NewBaseClient(
		httpClient,
		"playstore",
		external.DefaultRetryPolicy(),
		"ReviewPulse/1.0",
	)
	return NewPlayStoreExtractorWithBase(base, cfg)
}

// NewPlayStoreExtractorWithBase creates an extractor with a pre-configured
// BaseClient. Useful in tests that need retries disabled.
func NewPlayStoreExtractorWithBase(base *external.BaseClient, cfg Config) *PlayStoreExtractor {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = playStoreBase
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &PlayStoreExtractor{
		base:    base,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		logger:  logger,
	}
}

// Extract fetches reviews for the app identified by storeID and returns those
// whose review date falls inside the window, newest first. Reviews shorter
// than minReviewLength characters are dropped at the source.
//
// A 404 from the store means the package ID does not exist
// (ErrCodeExtractionAppUnknown); transport failures and upstream errors map
// to ErrCodeExtractionUnreachable.
func (e *PlayStoreExtractor) Extract(ctx context.Context, storeID string, window clock.Window) ([]types.FeedbackItem, error) {
	reqURL := fmt.Sprintf("%s/store/apps/details?id=%s&hl=en&showAllReviews=true",
		e.baseURL, url.QueryEscape(storeID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to create reviews request", err)
	}

	resp, err := e.base.Do(req)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeExtractionUnreachable,
			fmt.Sprintf("store unreachable for %s", storeID), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, types.NewAppError(types.ErrCodeExtractionAppUnknown,
			fmt.Sprintf("no Play Store app with id %s", storeID), nil)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, types.NewAppError(types.ErrCodeExtractionUnreachable,
			fmt.Sprintf("store returned %d for %s", resp.StatusCode, storeID), nil)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeExtractionUnreachable, "failed to parse reviews page", err)
	}

	items := e.parseReviews(doc, storeID, window)

	sort.Slice(items, func(i, j int) bool {
		return items[i].Date.After(items[j].Date)
	})

	e.logger.InfoContext(ctx, "extracted reviews",
		"store_id", storeID,
		"week_start", window.Start.Format("2006-01-02"),
		"count", len(items),
	)
	return items, nil
}

// AppName returns the application's display name from its details page, for
// use in digest titles. Errors map the same way as Extract.
func (e *PlayStoreExtractor) AppName(ctx context.Context, storeID string) (string, error) {
	reqURL := fmt.Sprintf("%s/store/apps/details?id=%s&hl=en", e.baseURL, url.QueryEscape(storeID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return "", types.NewAppError(types.ErrCodeInternalUnexpected, "failed to create details request", err)
	}

	resp, err := e.base.Do(req)
	if err != nil {
		return "", types.NewAppError(types.ErrCodeExtractionUnreachable,
			fmt.Sprintf("store unreachable for %s", storeID), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return "", types.NewAppError(types.ErrCodeExtractionAppUnknown,
			fmt.Sprintf("no Play Store app with id %s", storeID), nil)
	}
	if resp.StatusCode != http.StatusOK {
		return "", types.NewAppError(types.ErrCodeExtractionUnreachable,
			fmt.Sprintf("store returned %d for %s", resp.StatusCode, storeID), nil)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return "", types.NewAppError(types.ErrCodeExtractionUnreachable, "failed to parse details page", err)
	}

	name := strings.TrimSpace(doc.Find(`h1[itemprop="name"]`).First().Text())
	if name == "" {
		name = strings.TrimSpace(doc.Find("h1").First().Text())
	}
	if name == "" {
		name = storeID
	}
	return name, nil
}

// starPattern matches accessibility labels like "Rated 4 stars out of five".
var starPattern = regexp.MustCompile(`(?i)(?:rated\s+)?([1-5])\s+star`)

// parseReviews walks the review elements on a reviews page. The page
// structure varies, so several selectors are tried in order, mirroring what
// the store actually serves.
func (e *PlayStoreExtractor) parseReviews(doc *goquery.Document, storeID string, window clock.Window) []types.FeedbackItem {
	selectors := []string{
		"div[data-review-id]",
		`[itemprop="review"]`,
		"div.review",
	}

	var nodes *goquery.Selection
	for _, sel := range selectors {
		nodes = doc.Find(sel)
		if nodes.Length() > 0 {
			break
		}
	}
	if nodes == nil || nodes.Length() == 0 {
		return nil
	}

	var items []types.FeedbackItem
	seen := make(map[string]bool)

	nodes.Each(func(_ int, sel *goquery.Selection) {
		item, ok := parseReviewElement(sel, storeID)
		if !ok {
			return
		}
		if len(item.Text) < minReviewLength {
			return
		}
		if !window.Contains(item.Date) {
			return
		}
		if seen[item.Hash] {
			return
		}
		seen[item.Hash] = true
		items = append(items, item)
	})
	return items
}

// parseReviewElement extracts one review from its container element.
func parseReviewElement(sel *goquery.Selection, storeID string) (types.FeedbackItem, bool) {
	rating := 0
	sel.Find("[aria-label]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		label, _ := s.Attr("aria-label")
		if m := starPattern.FindStringSubmatch(label); m != nil {
			rating = int(m[1][0] - '0')
			return false
		}
		return true
	})
	if rating < 1 || rating > 5 {
		return types.FeedbackItem{}, false
	}

	date, ok := parseReviewDate(sel)
	if !ok {
		return types.FeedbackItem{}, false
	}

	title := strings.TrimSpace(sel.Find(`[data-review-title], .review-title`).First().Text())
	text := strings.TrimSpace(sel.Find(`[data-review-body], [itemprop="reviewBody"], .review-body`).First().Text())
	if text == "" {
		// Fallback: longest text block inside the element.
		sel.Find("span, p").Each(func(_ int, s *goquery.Selection) {
			if t := strings.TrimSpace(s.Text()); len(t) > len(text) {
				text = t
			}
		})
	}
	if text == "" {
		return types.FeedbackItem{}, false
	}

	reviewID, _ := sel.Attr("data-review-id")

	return types.FeedbackItem{
		Rating: rating,
		Title:  title,
		Text:   text,
		Date:   date,
		Hash:   ReviewHash(storeID, reviewID, date, text),
	}, true
}

// reviewDateFormats are tried in order against the review's date text.
var reviewDateFormats = []string{
	"January 2, 2006",
	"Jan 2, 2006",
	"2006-01-02",
}

// parseReviewDate finds the review date, preferring a machine-readable
// <time datetime> attribute over display text. Dates are interpreted as
// business-zone midnights so window comparisons line up with week windows.
func parseReviewDate(sel *goquery.Selection) (time.Time, bool) {
	if attr, ok := sel.Find("time[datetime]").First().Attr("datetime"); ok {
		if t, err := time.Parse(time.RFC3339, attr); err == nil {
			return midnightBusiness(t), true
		}
		if t, err := time.Parse("2006-01-02", attr); err == nil {
			return midnightBusiness(t), true
		}
	}

	raw := strings.TrimSpace(sel.Find("time, .review-date, [data-review-date]").First().Text())
	for _, layout := range reviewDateFormats {
		if t, err := time.Parse(layout, raw); err == nil {
			return midnightBusiness(t), true
		}
	}
	return time.Time{}, false
}

func midnightBusiness(t time.Time) time.Time {
	zone := clock.BusinessZone()
	local := t.In(zone)
	// A bare date parses in UTC; re-anchor the calendar day in business time.
	if t.Location() == time.UTC && t.Hour() == 0 && t.Minute() == 0 {
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, zone)
	}
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, zone)
}

// ReviewHash computes the stable content fingerprint used for store-level
// deduplication. The store's review ID is used when present; otherwise the
// hash covers the identifying content fields.
func ReviewHash(storeID, reviewID string, date time.Time, text string) string {
	h := sha256.New()
	if reviewID != "" {
		fmt.Fprintf(h, "%s|%s", storeID, reviewID)
	} else {
		fmt.Fprintf(h, "%s|%s|%s", storeID, date.Format("2006-01-02"), text)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Package connpass is a small client for the connpass event search API.
package connpass

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultBaseURL   = "https://connpass.com/api/v1"
	DefaultUserAgent = "ConnpassReminder/1.0"
	// MaxCount is the largest page size the API accepts.
	MaxCount = 100
)

// Order of search results.
type Order int

const (
	OrderUpdated Order = 1
	OrderStart   Order = 2
	OrderNewest  Order = 3
)

type Series struct {
	ID    int    `json:"id"`
	Title string `json:"title"`
	URL   string `json:"url"`
}

// Event is one search result as returned by the API.
type Event struct {
	EventID          int64     `json:"event_id"`
	Title            string    `json:"title"`
	Catch            string    `json:"catch"`
	Description      string    `json:"description"`
	EventURL         string    `json:"event_url"`
	HashTag          string    `json:"hash_tag"`
	StartedAt        time.Time `json:"started_at"`
	EndedAt          time.Time `json:"ended_at"`
	Limit            int       `json:"limit"`
	EventType        string    `json:"event_type"`
	Series           *Series   `json:"series"`
	Address          string    `json:"address"`
	Place            string    `json:"place"`
	OwnerNickname    string    `json:"owner_nickname"`
	OwnerDisplayName string    `json:"owner_display_name"`
	Accepted         int       `json:"accepted"`
	Waiting          int       `json:"waiting"`
	UpdatedAt        time.Time `json:"updated_at"`
}

type Response struct {
	ResultsReturned  int     `json:"results_returned"`
	ResultsAvailable int     `json:"results_available"`
	ResultsStart     int     `json:"results_start"`
	Events           []Event `json:"events"`
}

// SearchParams selects events. Zero values are omitted from the query.
type SearchParams struct {
	// Dates restricts results to events held on any of these days.
	Dates   []time.Time
	Keyword string
	Order   Order
	Start   int
	Count   int
}

// APIError is returned for non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("connpass api returned %d: %s", e.StatusCode, e.Body)
}

// Temporary reports whether retrying the request may succeed.
func (e *APIError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

type Client struct {
	baseURL    string
	apiKey     string
	userAgent  string
	httpClient *http.Client
}

type Option func(*Client)

// WithAPIKey sends key in the X-API-Key header.
func WithAPIKey(key string) Option {
	return func(c *Client) { c.apiKey = key }
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func WithUserAgent(ua string) Option {
	return func(c *Client) { c.userAgent = ua }
}

func NewClient(baseURL string, timeout time.Duration, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		userAgent:  DefaultUserAgent,
		httpClient: &http.Client{Timeout: timeout},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// SearchEvents performs a single search request.
func (c *Client) SearchEvents(ctx context.Context, p SearchParams) (*Response, error) {
	q := url.Values{}
	if len(p.Dates) > 0 {
		days := make([]string, len(p.Dates))
		for i, d := range p.Dates {
			days[i] = d.Format("20060102")
		}
		q.Set("ymd", strings.Join(days, ","))
	}
	if p.Keyword != "" {
		q.Set("keyword", p.Keyword)
	}
	if p.Order != 0 {
		q.Set("order", strconv.Itoa(int(p.Order)))
	}
	if p.Start > 0 {
		q.Set("start", strconv.Itoa(p.Start))
	}
	if p.Count > 0 {
		q.Set("count", strconv.Itoa(p.Count))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/event/?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build connpass request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("connpass request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var out Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode connpass response: %w", err)
	}
	return &out, nil
}

// EventsBetween returns events starting in [from, to], following pages
// until the result set is exhausted or maxPages requests were made. Days
// are computed in loc, the zone connpass dates are expressed in. truncated
// is true when maxPages stopped the walk with results left unread.
func (c *Client) EventsBetween(ctx context.Context, from, to time.Time, loc *time.Location, maxPages int) (events []Event, truncated bool, err error) {
	if loc == nil {
		loc = time.UTC
	}
	if maxPages <= 0 {
		maxPages = 1
	}

	var days []time.Time
	for d := startOfDay(from.In(loc)); !d.After(to.In(loc)); d = d.AddDate(0, 0, 1) {
		days = append(days, d)
	}

	start := 1
	for page := 0; page < maxPages; page++ {
		resp, err := c.SearchEvents(ctx, SearchParams{
			Dates: days,
			Order: OrderStart,
			Start: start,
			Count: MaxCount,
		})
		if err != nil {
			return nil, false, err
		}
		for _, e := range resp.Events {
			if e.StartedAt.Before(from) || e.StartedAt.After(to) {
				continue
			}
			events = append(events, e)
		}
		if resp.ResultsReturned == 0 || start+resp.ResultsReturned > resp.ResultsAvailable {
			return events, false, nil
		}
		start += resp.ResultsReturned
	}
	return events, true, nil
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

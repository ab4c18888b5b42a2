package gamma

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const DefaultURL = "https://gamma-api.polymarket.com"

// DefaultUserAgent mimics a browser UA to avoid Cloudflare 403s.
const DefaultUserAgent = "Mozilla/5.0"

// ErrNotFound reports that Gamma has no market for the given reference.
var ErrNotFound = errors.New("gamma: market not found")

type Client struct {
	host       string
	httpClient *http.Client
	userAgent  string
	limiter    *rate.Limiter
}

func NewClient(host string) (*Client, error) {
	host = strings.TrimSpace(host)
	if host == "" {
		host = DefaultURL
	}
	host = strings.TrimRight(host, "/")

	u, err := url.Parse(host)
	if err != nil {
		return nil, fmt.Errorf("gamma url parse %q: %w", host, err)
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return nil, fmt.Errorf("gamma url must be http(s), got %q", host)
	}

	return &Client{
		host: host,
		httpClient: &http.Client{
			Timeout: 12 * time.Second,
		},
		userAgent: DefaultUserAgent,
		limiter:   rate.NewLimiter(rate.Limit(5), 10),
	}, nil
}

type stringList []string

func (s *stringList) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*s = nil
		return nil
	}

	// Gamma commonly returns lists as a JSON string that itself contains a
	// JSON array.
	if b[0] == '"' {
		var raw string
		if err := json.Unmarshal(b, &raw); err != nil {
			return err
		}
		raw = strings.TrimSpace(raw)
		if raw == "" {
			*s = nil
			return nil
		}
		var vals []string
		if err := json.Unmarshal([]byte(raw), &vals); err != nil {
			return err
		}
		*s = vals
		return nil
	}

	var vals []string
	if err := json.Unmarshal(b, &vals); err != nil {
		return err
	}
	*s = vals
	return nil
}

type decimalString string

func (d *decimalString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*d = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*d = decimalString(strings.TrimSpace(s))
		return nil
	}
	*d = decimalString(b)
	return nil
}

type tagJSON struct {
	Label string `json:"label"`
	Slug  string `json:"slug"`
}

func (t *tagJSON) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		t.Label = s
		return nil
	}
	type alias tagJSON
	var a alias
	if err := json.Unmarshal(b, &a); err != nil {
		return err
	}
	*t = tagJSON(a)
	return nil
}

type eventJSON struct {
	Slug string    `json:"slug"`
	Tags []tagJSON `json:"tags"`
}

type marketJSON struct {
	Slug         string        `json:"slug"`
	ConditionID  string        `json:"conditionId"`
	Question     string        `json:"question"`
	Outcomes     stringList    `json:"outcomes"`
	ClobTokenIDs stringList    `json:"clobTokenIds"`
	NegRisk      bool          `json:"negRisk"`
	MinTickSize  decimalString `json:"orderPriceMinTickSize"`
	Active       bool          `json:"active"`
	Closed       bool          `json:"closed"`
	Tags         []tagJSON     `json:"tags"`
	Events       []eventJSON   `json:"events"`
}

// Market is the metadata the relay needs to turn a market reference plus an
// outcome label into a tradeable token.
type Market struct {
	Slug        string
	ConditionID string
	Question    string
	Outcomes    []string
	TokenIDs    []string
	NegRisk     bool
	TickSize    string
	Active      bool
	Closed      bool
	Tags        []string
}

// LookupMarket resolves a market reference, which the feed delivers either as
// a 0x-prefixed condition id or as a market slug.
func (c *Client) LookupMarket(ctx context.Context, ref string) (Market, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return Market{}, fmt.Errorf("market reference required")
	}
	q := url.Values{}
	if strings.HasPrefix(ref, "0x") {
		q.Set("condition_ids", ref)
	} else {
		q.Set("slug", ref)
	}

	markets, err := c.fetchMarkets(ctx, q)
	if err != nil {
		return Market{}, err
	}
	if len(markets) == 0 {
		return Market{}, fmt.Errorf("%w: %q", ErrNotFound, ref)
	}
	return toMarket(&markets[0]), nil
}

func (c *Client) fetchMarkets(ctx context.Context, q url.Values) ([]marketJSON, error) {
	if c == nil {
		return nil, fmt.Errorf("gamma client nil")
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	endpoint := c.host + "/markets?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body := readBodyLimit(resp.Body, 8<<10)
		return nil, fmt.Errorf("gamma %s: status=%d body=%q", endpoint, resp.StatusCode, body)
	}

	var markets []marketJSON
	if err := json.NewDecoder(resp.Body).Decode(&markets); err != nil {
		return nil, fmt.Errorf("gamma decode: %w", err)
	}
	return markets, nil
}

func toMarket(m *marketJSON) Market {
	ids := make([]string, 0, len(m.ClobTokenIDs))
	for _, id := range m.ClobTokenIDs {
		id = strings.TrimSpace(id)
		if id != "" {
			ids = append(ids, id)
		}
	}

	seen := make(map[string]bool)
	var tags []string
	appendTag := func(t tagJSON) {
		label := strings.TrimSpace(t.Label)
		if label == "" {
			label = strings.TrimSpace(t.Slug)
		}
		if label == "" || seen[strings.ToLower(label)] {
			return
		}
		seen[strings.ToLower(label)] = true
		tags = append(tags, label)
	}
	for _, t := range m.Tags {
		appendTag(t)
	}
	for _, ev := range m.Events {
		for _, t := range ev.Tags {
			appendTag(t)
		}
	}

	return Market{
		Slug:        strings.TrimSpace(m.Slug),
		ConditionID: strings.TrimSpace(m.ConditionID),
		Question:    strings.TrimSpace(m.Question),
		Outcomes:    append([]string(nil), m.Outcomes...),
		TokenIDs:    ids,
		NegRisk:     m.NegRisk,
		TickSize:    string(m.MinTickSize),
		Active:      m.Active,
		Closed:      m.Closed,
		Tags:        tags,
	}
}

func readBodyLimit(r io.Reader, max int64) string {
	if r == nil || max <= 0 {
		return ""
	}
	lr := &io.LimitedReader{R: r, N: max}
	b, _ := io.ReadAll(lr)
	return strings.TrimSpace(string(b))
}

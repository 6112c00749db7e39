// Package enrich fetches product data for a global product code from an
// external UPC lookup API.
package enrich

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"shoppingbird/backend/internal/cache"
	"shoppingbird/backend/internal/domain"
)

var (
	ErrDisabled = errors.New("product lookup is not configured")
	ErrNoMatch  = errors.New("no product data for code")
)

// Client talks to a UPCitemdb-compatible endpoint:
// GET {baseURL}?upc={code} -> {"code":"OK","items":[...]}.
type Client struct {
	baseURL string
	http    *http.Client
	cache   cache.ProductInfoCache
	ttl     time.Duration
}

func NewClient(baseURL string, timeout time.Duration, c cache.ProductInfoCache, ttl time.Duration) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if c == nil {
		c = cache.NoopProductInfoCache{}
	}
	return &Client{
		baseURL: strings.TrimSpace(baseURL),
		http:    &http.Client{Timeout: timeout},
		cache:   c,
		ttl:     ttl,
	}
}

func (c *Client) Enabled() bool {
	return c != nil && c.baseURL != ""
}

type lookupResponse struct {
	Code    string       `json:"code"`
	Message string       `json:"message"`
	Items   []lookupItem `json:"items"`
}

type lookupItem struct {
	EAN         string   `json:"ean"`
	UPC         string   `json:"upc"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Brand       string   `json:"brand"`
	Model       string   `json:"model"`
	Category    string   `json:"category"`
	Images      []string `json:"images"`
}

func (c *Client) Lookup(ctx context.Context, code string) (*domain.ProductInfo, error) {
	if !c.Enabled() {
		return nil, ErrDisabled
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, ErrNoMatch
	}

	if info, ok, err := c.cache.Get(ctx, code); err != nil {
		log.Warn().Err(err).Str("code", code).Msg("product cache read failed")
	} else if ok {
		return info, nil
	}

	info, err := c.fetch(ctx, code)
	if err != nil {
		return nil, err
	}
	if err := c.cache.Set(ctx, code, info, c.ttl); err != nil {
		log.Warn().Err(err).Str("code", code).Msg("product cache write failed")
	}
	return info, nil
}

func (c *Client) fetch(ctx context.Context, code string) (*domain.ProductInfo, error) {
	endpoint, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, fmt.Errorf("product lookup url: %w", err)
	}
	q := endpoint.Query()
	q.Set("upc", code)
	endpoint.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("product lookup: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrNoMatch
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("product lookup: unexpected status %d", resp.StatusCode)
	}

	var body lookupResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&body); err != nil {
		return nil, fmt.Errorf("product lookup: decode: %w", err)
	}
	if len(body.Items) == 0 {
		return nil, ErrNoMatch
	}

	item := body.Items[0]
	info := &domain.ProductInfo{
		Code:        code,
		Title:       strings.TrimSpace(item.Title),
		Brand:       strings.TrimSpace(item.Brand),
		Model:       strings.TrimSpace(item.Model),
		Description: strings.TrimSpace(item.Description),
		Images:      item.Images,
		Tags:        splitCategory(item.Category),
	}
	return info, nil
}

// splitCategory turns "Food > Beverages > Coffee" into its parts.
func splitCategory(category string) []string {
	if strings.TrimSpace(category) == "" {
		return nil
	}
	parts := strings.Split(category, ">")
	tags := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			tags = append(tags, p)
		}
	}
	return tags
}

// Prefill copies product data into the empty fields of req.
func Prefill(req domain.CatalogItemRequest, info domain.ProductInfo) domain.CatalogItemRequest {
	fill := func(dst *string, src string) {
		if strings.TrimSpace(*dst) == "" {
			*dst = src
		}
	}
	fill(&req.Title, info.Title)
	fill(&req.Brand, info.Brand)
	fill(&req.Model, info.Model)
	desc := info.Description
	if desc == "" {
		desc = info.Title
	}
	fill(&req.Description, desc)
	if len(info.Images) > 0 {
		fill(&req.ImageURL, info.Images[0])
	}
	if len(req.Tags) == 0 {
		req.Tags = info.Tags
	}
	return req
}

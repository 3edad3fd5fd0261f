package shopify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"voyapos/backend/internal/domain"
)

const (
	// ItemBatchSize is the number of inventory item ids sent per request.
	ItemBatchSize = 50
	pageLimit     = 250
	maxInFlight   = 4
	// DefaultMaxPages bounds the pages followed for one batch. At 250 levels
	// a page this covers far more locations than a shop has.
	DefaultMaxPages = 200
)

var (
	ErrUnexpectedStatus = errors.New("shopify: unexpected status")
	ErrPagination       = errors.New("shopify: pagination did not terminate")
)

type Config struct {
	ShopDomain  string
	AccessToken string
	APIVersion  string
	Timeout     time.Duration
	// BaseURL replaces https://{shop}/admin/api/{version}. Tests point it at
	// an httptest server.
	BaseURL string
	// MaxPages caps the Link pages followed per batch; 0 means DefaultMaxPages.
	MaxPages int
}

type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
	maxPages   int
	logger     *zap.Logger
}

func New(cfg Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = fmt.Sprintf("https://%s/admin/api/%s", cfg.ShopDomain, cfg.APIVersion)
	}
	maxPages := cfg.MaxPages
	if maxPages <= 0 {
		maxPages = DefaultMaxPages
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      cfg.AccessToken,
		maxPages:   maxPages,
		logger:     logger,
	}
}

type inventoryLevelsResponse struct {
	InventoryLevels []struct {
		InventoryItemID int64 `json:"inventory_item_id"`
		LocationID      int64 `json:"location_id"`
		Available       *int  `json:"available"`
	} `json:"inventory_levels"`
}

// FetchInventorySnapshot returns the current levels of the given items at
// every location. A null available count is reported as 0. Any failed page
// fails the whole snapshot.
func (c *Client) FetchInventorySnapshot(ctx context.Context, itemIDs []string) ([]domain.InventoryLevel, error) {
	batches := batch(dedupe(itemIDs), ItemBatchSize)
	results := make([][]domain.InventoryLevel, len(batches))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxInFlight)
	for i, ids := range batches {
		i, ids := i, ids
		g.Go(func() error {
			levels, err := c.fetchBatch(gctx, ids)
			if err != nil {
				return err
			}
			results[i] = levels
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]domain.InventoryLevel, 0, len(itemIDs))
	for _, levels := range results {
		out = append(out, levels...)
	}
	c.logger.Info("fetched inventory snapshot",
		zap.Int("items", len(itemIDs)),
		zap.Int("batches", len(batches)),
		zap.Int("levels", len(out)),
	)
	return out, nil
}

func (c *Client) fetchBatch(ctx context.Context, ids []string) ([]domain.InventoryLevel, error) {
	query := url.Values{}
	query.Set("inventory_item_ids", strings.Join(ids, ","))
	query.Set("limit", strconv.Itoa(pageLimit))
	next := c.baseURL + "/inventory_levels.json?" + query.Encode()

	levels := make([]domain.InventoryLevel, 0, len(ids))
	seen := make(map[string]struct{})
	for next != "" {
		if _, ok := seen[next]; ok {
			return nil, fmt.Errorf("%w: next link repeats %s", ErrPagination, next)
		}
		if len(seen) == c.maxPages {
			return nil, fmt.Errorf("%w: more than %d pages", ErrPagination, c.maxPages)
		}
		seen[next] = struct{}{}

		page, link, err := c.getPage(ctx, next)
		if err != nil {
			return nil, err
		}
		for _, lvl := range page.InventoryLevels {
			available := 0
			if lvl.Available != nil {
				available = *lvl.Available
			}
			levels = append(levels, domain.InventoryLevel{
				LocationID: strconv.FormatInt(lvl.LocationID, 10),
				ItemID:     strconv.FormatInt(lvl.InventoryItemID, 10),
				Available:  available,
			})
		}
		next = nextPageURL(link)
	}
	return levels, nil
}

func (c *Client) getPage(ctx context.Context, pageURL string) (*inventoryLevelsResponse, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, "", err
	}
	req.Header.Set("X-Shopify-Access-Token", c.token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("shopify request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, "", fmt.Errorf("%w %d: %s", ErrUnexpectedStatus, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var page inventoryLevelsResponse
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, "", fmt.Errorf("decode inventory levels: %w", err)
	}
	return &page, resp.Header.Get("Link"), nil
}

// nextPageURL extracts the rel="next" target from a Link header.
func nextPageURL(link string) string {
	for _, part := range strings.Split(link, ",") {
		segments := strings.Split(part, ";")
		if len(segments) < 2 {
			continue
		}
		target := strings.TrimSpace(segments[0])
		if !strings.HasPrefix(target, "<") || !strings.HasSuffix(target, ">") {
			continue
		}
		for _, param := range segments[1:] {
			if strings.ReplaceAll(strings.TrimSpace(param), " ", "") == `rel="next"` {
				return target[1 : len(target)-1]
			}
		}
	}
	return ""
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func batch(ids []string, size int) [][]string {
	out := make([][]string, 0, (len(ids)+size-1)/size)
	for start := 0; start < len(ids); start += size {
		end := min(start+size, len(ids))
		out = append(out, ids[start:end])
	}
	return out
}

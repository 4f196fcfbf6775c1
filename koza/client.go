package koza

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// RemoteError is returned for any non-2xx response from the accounting API.
// Temporary() drives retry classification: transient failures leave the
// mapping PENDING for the next run, permanent rejections mark it ERROR.
type RemoteError struct {
	StatusCode int
	Op         string
	Message    string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("koza %s: status %d: %s", e.Op, e.StatusCode, e.Message)
}

// Temporary reports whether the failure is worth retrying automatically.
// 5xx and 429 are server-side/transient; other 4xx are validation rejections.
func (e *RemoteError) Temporary() bool {
	if e.StatusCode >= 500 {
		return true
	}
	return e.StatusCode == http.StatusTooManyRequests
}

// IsTemporary classifies any push error: typed remote errors by status code,
// everything else (timeouts, connection resets, DNS, unknowns) as transient
// so it is retried rather than parked in ERROR.
func IsTemporary(err error) bool {
	var re *RemoteError
	if errors.As(err, &re) {
		return re.Temporary()
	}
	return true
}

type Client struct {
	baseURL   string
	apiKey    string
	apiKeyHdr string
	http      *http.Client
	limiter   <-chan time.Time
}

func NewClient() (*Client, error) {
	baseURL := strings.TrimSpace(os.Getenv("KOZA_API_BASE_URL"))
	if baseURL == "" {
		baseURL = "https://api.koza.com.tr"
	}
	apiKey := strings.TrimSpace(os.Getenv("KOZA_API_KEY"))
	if apiKey == "" {
		return nil, errors.New("koza api key is empty")
	}
	apiKeyHeader := strings.TrimSpace(os.Getenv("KOZA_API_KEY_HEADER"))
	if apiKeyHeader == "" {
		apiKeyHeader = "X-API-Key"
	}
	rateLimitPerMin := int64(60)
	if v := strings.TrimSpace(os.Getenv("KOZA_RATE_LIMIT_PER_MIN")); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			rateLimitPerMin = n
		}
	}
	interval := time.Minute / time.Duration(rateLimitPerMin)

	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		apiKey:    apiKey,
		apiKeyHdr: apiKeyHeader,
		http:      &http.Client{Timeout: 30 * time.Second},
		limiter:   time.Tick(interval),
	}, nil
}

type StockCard struct {
	ID       int64  `json:"id"`
	Code     string `json:"code"`
	Name     string `json:"name"`
	UomCode  string `json:"uom_code"`
	IsActive bool   `json:"is_active"`
}

type CariRecord struct {
	ID         int64  `json:"id"`
	Code       string `json:"code"`
	Name       string `json:"name"`
	TaxNumber  string `json:"tax_number"`
	TaxOffice  string `json:"tax_office"`
	Email      string `json:"email"`
	Phone      string `json:"phone"`
	Address    string `json:"address"`
	City       string `json:"city"`
	IsSupplier bool   `json:"is_supplier"`
}

type Depot struct {
	ID   int64  `json:"id"`
	Code string `json:"code"`
	Name string `json:"name"`
}

type InvoiceLine struct {
	StockCardCode string `json:"stock_card_code"`
	Quantity      string `json:"quantity"`
	UnitPrice     string `json:"unit_price"`
}

type Invoice struct {
	ID           int64         `json:"id"`
	Code         string        `json:"code"`
	CariCode     string        `json:"cari_code"`
	CurrencyCode string        `json:"currency_code"`
	Total        string        `json:"total"`
	IssuedAt     time.Time     `json:"issued_at"`
	Lines        []InvoiceLine `json:"lines"`
}

type listResponse struct {
	Data       []json.RawMessage `json:"data"`
	Items      []json.RawMessage `json:"items"`
	NextCursor string            `json:"next_cursor"`
	HasMore    *bool             `json:"has_more"`
}

func (c *Client) do(ctx context.Context, method, path string, params url.Values, in any, out any) error {
	<-c.limiter
	endpoint := c.baseURL + path
	if len(params) > 0 {
		endpoint = endpoint + "?" + params.Encode()
	}

	var reqBody io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return err
		}
		reqBody = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reqBody)
	if err != nil {
		return err
	}
	req.Header.Set(c.apiKeyHdr, c.apiKey)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &RemoteError{
			StatusCode: resp.StatusCode,
			Op:         method + " " + path,
			Message:    strings.TrimSpace(string(body)),
		}
	}
	if out != nil && len(body) > 0 {
		if err := json.Unmarshal(body, out); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) list(ctx context.Context, path string) ([]json.RawMessage, error) {
	var all []json.RawMessage
	cursor := ""
	for {
		params := url.Values{}
		if cursor != "" {
			params.Set("cursor", cursor)
		}
		var page listResponse
		if err := c.do(ctx, http.MethodGet, path, params, nil, &page); err != nil {
			return nil, err
		}
		items := page.Data
		if len(items) == 0 {
			items = page.Items
		}
		all = append(all, items...)
		if page.NextCursor == "" || (page.HasMore != nil && !*page.HasMore) {
			return all, nil
		}
		cursor = page.NextCursor
	}
}

func (c *Client) ListStockCards(ctx context.Context) ([]StockCard, error) {
	raw, err := c.list(ctx, "/v1/stock-cards")
	if err != nil {
		return nil, err
	}
	cards := make([]StockCard, 0, len(raw))
	for _, r := range raw {
		var card StockCard
		if err := json.Unmarshal(r, &card); err != nil {
			return nil, err
		}
		cards = append(cards, card)
	}
	return cards, nil
}

func (c *Client) GetStockCard(ctx context.Context, code string) (*StockCard, error) {
	var card StockCard
	err := c.do(ctx, http.MethodGet, "/v1/stock-cards/"+url.PathEscape(code), nil, nil, &card)
	if err != nil {
		return nil, err
	}
	return &card, nil
}

func (c *Client) CreateStockCard(ctx context.Context, card StockCard) (*StockCard, error) {
	var created StockCard
	if err := c.do(ctx, http.MethodPost, "/v1/stock-cards", nil, card, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

func (c *Client) UpdateStockCard(ctx context.Context, card StockCard) error {
	return c.do(ctx, http.MethodPut, "/v1/stock-cards/"+strconv.FormatInt(card.ID, 10), nil, card, nil)
}

func (c *Client) DeleteStockCard(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodDelete, "/v1/stock-cards/"+strconv.FormatInt(id, 10), nil, nil, nil)
}

func (c *Client) ListCariRecords(ctx context.Context) ([]CariRecord, error) {
	raw, err := c.list(ctx, "/v1/cari")
	if err != nil {
		return nil, err
	}
	records := make([]CariRecord, 0, len(raw))
	for _, r := range raw {
		var rec CariRecord
		if err := json.Unmarshal(r, &rec); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

func (c *Client) CreateCari(ctx context.Context, rec CariRecord) (*CariRecord, error) {
	var created CariRecord
	if err := c.do(ctx, http.MethodPost, "/v1/cari", nil, rec, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

func (c *Client) ListDepots(ctx context.Context) ([]Depot, error) {
	raw, err := c.list(ctx, "/v1/depots")
	if err != nil {
		return nil, err
	}
	depots := make([]Depot, 0, len(raw))
	for _, r := range raw {
		var d Depot
		if err := json.Unmarshal(r, &d); err != nil {
			return nil, err
		}
		depots = append(depots, d)
	}
	return depots, nil
}

func (c *Client) CreateDepot(ctx context.Context, depot Depot) (*Depot, error) {
	var created Depot
	if err := c.do(ctx, http.MethodPost, "/v1/depots", nil, depot, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

func (c *Client) CreateInvoice(ctx context.Context, inv Invoice) (*Invoice, error) {
	var created Invoice
	if err := c.do(ctx, http.MethodPost, "/v1/invoices", nil, inv, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

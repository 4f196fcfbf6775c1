package katana

import (
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

type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	limiter <-chan time.Time
}

func NewClient() (*Client, error) {
	baseURL := strings.TrimSpace(os.Getenv("KATANA_API_BASE_URL"))
	if baseURL == "" {
		baseURL = "https://api.katanamrp.com"
	}
	apiKey := strings.TrimSpace(os.Getenv("KATANA_API_KEY"))
	if apiKey == "" {
		return nil, errors.New("katana api key is empty")
	}
	rateLimitPerMin := int64(30)
	if v := strings.TrimSpace(os.Getenv("KATANA_RATE_LIMIT_PER_MIN")); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			rateLimitPerMin = n
		}
	}
	interval := time.Minute / time.Duration(rateLimitPerMin)

	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 30 * time.Second},
		limiter: time.Tick(interval),
	}, nil
}

type Product struct {
	ID           int64  `json:"id"`
	SKU          string `json:"sku"`
	Name         string `json:"name"`
	VariantId    string `json:"variant_id"`
	CategoryName string `json:"category_name"`
	SalesPrice   string `json:"sales_price"`
	UomCode      string `json:"uom"`
	IsSellable   bool   `json:"is_sellable"`
}

type Customer struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`
	TaxNumber string `json:"tax_number"`
	Address   string `json:"address"`
	City      string `json:"city"`
	Country   string `json:"country"`
}

type SalesOrderRow struct {
	SKU          string `json:"sku"`
	VariantId    string `json:"variant_id"`
	Quantity     string `json:"quantity"`
	PricePerUnit string `json:"price_per_unit"`
}

type SalesOrder struct {
	ID         int64           `json:"id"`
	OrderNo    string          `json:"order_no"`
	CustomerId int64           `json:"customer_id"`
	Status     string          `json:"status"`
	Currency   string          `json:"currency"`
	Total      string          `json:"total"`
	CreatedAt  time.Time       `json:"created_date"`
	Rows       []SalesOrderRow `json:"sales_order_rows"`
}

type Location struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type listResponse struct {
	Data       []json.RawMessage `json:"data"`
	NextCursor string            `json:"next_cursor"`
	HasMore    *bool             `json:"has_more"`
}

func (c *Client) getList(ctx context.Context, path string, params url.Values) (listResponse, error) {
	<-c.limiter
	endpoint := c.baseURL + path
	if len(params) > 0 {
		endpoint = endpoint + "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return listResponse{}, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return listResponse{}, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return listResponse{}, fmt.Errorf("katana api error %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var parsed listResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return listResponse{}, err
	}
	return parsed, nil
}

func listAll[T any](ctx context.Context, c *Client, path string) ([]T, error) {
	var all []T
	cursor := ""
	for {
		params := url.Values{}
		if cursor != "" {
			params.Set("cursor", cursor)
		}
		page, err := c.getList(ctx, path, params)
		if err != nil {
			return nil, err
		}
		for _, raw := range page.Data {
			var item T
			if err := json.Unmarshal(raw, &item); err != nil {
				return nil, err
			}
			all = append(all, item)
		}
		if page.NextCursor == "" || (page.HasMore != nil && !*page.HasMore) {
			return all, nil
		}
		cursor = page.NextCursor
	}
}

func (c *Client) ListProducts(ctx context.Context) ([]Product, error) {
	return listAll[Product](ctx, c, "/v1/products")
}

func (c *Client) ListCustomers(ctx context.Context) ([]Customer, error) {
	return listAll[Customer](ctx, c, "/v1/customers")
}

func (c *Client) ListSalesOrders(ctx context.Context) ([]SalesOrder, error) {
	return listAll[SalesOrder](ctx, c, "/v1/sales-orders")
}

func (c *Client) ListLocations(ctx context.Context) ([]Location, error) {
	return listAll[Location](ctx, c, "/v1/locations")
}

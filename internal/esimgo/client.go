package esimgo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"esim-storefront/internal/apperror"
	"esim-storefront/internal/config"
	"esim-storefront/internal/logger"

	"golang.org/x/time/rate"
)

const maxErrorBody = 1024

// Client ходит в API eSIM Go. Все запросы проходят через общий token bucket.
type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
	limiter *rate.Limiter
	log     *logger.Logger
}

// NewClient создает клиента провайдера.
func NewClient(cfg *config.ESIMGoConfig, log *logger.Logger) *Client {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		client:  &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(limit, burst),
		log:     log,
	}
}

// Country описывает страну покрытия пакета.
type Country struct {
	Name   string `json:"name"`
	Region string `json:"region"`
	ISO    string `json:"iso"`
}

// Bundle представляет запись каталога в формате провайдера. DataAmount в мегабайтах, Duration в днях.
type Bundle struct {
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Groups      []string  `json:"groups"`
	Countries   []Country `json:"countries"`
	DataAmount  float64   `json:"dataAmount"`
	Duration    int       `json:"duration"`
	Speed       []string  `json:"speed,omitempty"`
	Autostart   bool      `json:"autostart"`
	Unlimited   bool      `json:"unlimited"`
	Price       float64   `json:"price"`
}

type catalogueResponse struct {
	Bundles   []Bundle `json:"bundles"`
	PageCount int      `json:"pageCount"`
	Rows      int      `json:"rows"`
}

// CatalogueFilter ограничивает выборку каталога.
type CatalogueFilter struct {
	Country string
	Region  string
}

func (f CatalogueFilter) query() url.Values {
	params := url.Values{}
	if f.Country != "" {
		params.Set("countries", strings.ToUpper(f.Country))
	}
	if f.Region != "" {
		params.Set("region", f.Region)
	}
	return params
}

// Assignment содержит данные профиля eSIM для установки.
type Assignment struct {
	ICCID       string `json:"iccid"`
	MatchingID  string `json:"matchingId"`
	SMDPAddress string `json:"smdpAddress"`
}

// OrderLine описывает позицию заказа в ответе провайдера.
type OrderLine struct {
	Type     string       `json:"type"`
	Item     string       `json:"item"`
	Quantity int          `json:"quantity"`
	ICCIDs   []string     `json:"iccids,omitempty"`
	ESIMs    []Assignment `json:"esims,omitempty"`
}

// OrderResult описывает ответ на создание заказа. Raw хранит тело ответа целиком.
type OrderResult struct {
	OrderReference string      `json:"orderReference"`
	Status         string      `json:"status"`
	StatusMessage  string      `json:"statusMessage"`
	Total          float64     `json:"total"`
	Currency       string      `json:"currency"`
	Order          []OrderLine `json:"order"`

	Raw map[string]interface{} `json:"-"`
}

// FirstAssignment возвращает первый профиль из ответа, если провайдер его вернул.
func (r *OrderResult) FirstAssignment() (Assignment, bool) {
	for _, line := range r.Order {
		for _, esim := range line.ESIMs {
			if esim.ICCID != "" || esim.MatchingID != "" {
				return esim, true
			}
		}
	}
	return Assignment{}, false
}

type orderRequest struct {
	Type   string             `json:"type"`
	Assign bool               `json:"assign"`
	Order  []orderRequestItem `json:"order"`
}

type orderRequestItem struct {
	Type     string   `json:"type"`
	Quantity int      `json:"quantity"`
	Item     string   `json:"item"`
	ICCIDs   []string `json:"iccids,omitempty"`
}

type errorResponse struct {
	Message string `json:"message"`
}

// GetCatalogue возвращает каталог как есть.
func (c *Client) GetCatalogue(ctx context.Context, filter CatalogueFilter) (json.RawMessage, error) {
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, "/catalogue", filter.query(), nil, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// ListBundles возвращает разобранные пакеты каталога.
func (c *Client) ListBundles(ctx context.Context, filter CatalogueFilter) ([]Bundle, error) {
	params := filter.query()
	params.Set("perPage", "500")

	var resp catalogueResponse
	if err := c.do(ctx, http.MethodGet, "/catalogue", params, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Bundles, nil
}

// CreateOrder покупает один пакет и сразу назначает его на eSIM.
// Пустой iccid означает выпуск новой eSIM.
func (c *Client) CreateOrder(ctx context.Context, bundleName, iccid string) (*OrderResult, error) {
	if bundleName == "" {
		return nil, apperror.Validation("bundle name is required", nil)
	}

	item := orderRequestItem{Type: "bundle", Quantity: 1, Item: bundleName}
	if iccid != "" {
		item.ICCIDs = []string{iccid}
	}
	body := orderRequest{Type: "transaction", Assign: true, Order: []orderRequestItem{item}}

	var raw json.RawMessage
	if err := c.do(ctx, http.MethodPost, "/orders", nil, body, &raw); err != nil {
		return nil, err
	}

	result := &OrderResult{}
	if err := json.Unmarshal(raw, result); err != nil {
		return nil, apperror.Upstream("failed to decode eSIM Go order response", err)
	}
	if err := json.Unmarshal(raw, &result.Raw); err != nil {
		return nil, apperror.Upstream("failed to decode eSIM Go order response", err)
	}

	c.log.WithFields(map[string]interface{}{
		"bundle":          bundleName,
		"order_reference": result.OrderReference,
		"status":          result.Status,
	}).Info("eSIM Go order created")

	return result, nil
}

// GetAssignments возвращает профили eSIM, выданные по заказу провайдера.
func (c *Client) GetAssignments(ctx context.Context, orderReference string) ([]Assignment, error) {
	params := url.Values{}
	params.Set("reference", orderReference)

	var assignments []Assignment
	if err := c.do(ctx, http.MethodGet, "/esims/assignments", params, nil, &assignments); err != nil {
		return nil, err
	}
	return assignments, nil
}

func (c *Client) do(ctx context.Context, method, path string, params url.Values, body interface{}, dest interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return apperror.Upstream("eSIM Go request canceled", err)
	}

	reqURL := c.baseURL + path
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("X-API-Key", c.apiKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		c.log.WithError(err).WithField("path", path).Error("eSIM Go request failed")
		return apperror.Upstream("eSIM Go API is unavailable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		msg := strings.TrimSpace(string(data))
		var parsed errorResponse
		if json.Unmarshal(data, &parsed) == nil && parsed.Message != "" {
			msg = parsed.Message
		}
		c.log.WithFields(map[string]interface{}{
			"path":   path,
			"status": resp.StatusCode,
		}).Warn("eSIM Go returned error")
		return apperror.Upstream(fmt.Sprintf("eSIM Go API error: %d %s", resp.StatusCode, msg), nil)
	}

	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return apperror.Upstream("failed to decode eSIM Go response", err)
	}
	return nil
}

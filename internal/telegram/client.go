package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"esim-storefront/internal/apperror"
	"esim-storefront/internal/config"
	"esim-storefront/internal/logger"
)

// CurrencyStars содержит код валюты Telegram Stars.
const CurrencyStars = "XTR"

// Client вызывает методы Telegram Bot API.
type Client struct {
	baseURL string
	token   string
	client  *http.Client
	log     *logger.Logger
}

// NewClient создает клиента Bot API.
func NewClient(cfg *config.TelegramConfig, log *logger.Logger) *Client {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.APIURL, "/"),
		token:   cfg.BotToken,
		client:  &http.Client{Timeout: timeout},
		log:     log,
	}
}

type apiResponse struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	Description string          `json:"description"`
	ErrorCode   int             `json:"error_code"`
}

// LabeledPrice описывает строку цены счёта. Для XTR Amount задаётся в звёздах.
type LabeledPrice struct {
	Label  string `json:"label"`
	Amount int64  `json:"amount"`
}

// InvoiceLinkParams содержит параметры createInvoiceLink.
type InvoiceLinkParams struct {
	Title         string         `json:"title"`
	Description   string         `json:"description"`
	Payload       string         `json:"payload"`
	ProviderToken string         `json:"provider_token"`
	Currency      string         `json:"currency"`
	Prices        []LabeledPrice `json:"prices"`
}

// CreateInvoiceLink создает ссылку на оплату.
func (c *Client) CreateInvoiceLink(ctx context.Context, params InvoiceLinkParams) (string, error) {
	if params.Currency == "" {
		params.Currency = CurrencyStars
	}
	var link string
	if err := c.call(ctx, "createInvoiceLink", params, &link); err != nil {
		return "", err
	}
	return link, nil
}

// SendMessage отправляет текст в чат.
func (c *Client) SendMessage(ctx context.Context, chatID, text string) error {
	params := map[string]interface{}{
		"chat_id":    chatID,
		"text":       text,
		"parse_mode": "HTML",
	}
	return c.call(ctx, "sendMessage", params, nil)
}

// AnswerPreCheckoutQuery подтверждает или отклоняет оплату до списания.
func (c *Client) AnswerPreCheckoutQuery(ctx context.Context, queryID string, ok bool, errorMessage string) error {
	params := map[string]interface{}{
		"pre_checkout_query_id": queryID,
		"ok":                    ok,
	}
	if !ok {
		params["error_message"] = errorMessage
	}
	return c.call(ctx, "answerPreCheckoutQuery", params, nil)
}

func (c *Client) call(ctx context.Context, method string, params interface{}, dest interface{}) error {
	if c.token == "" {
		return apperror.Upstream("Telegram bot token is not configured", nil)
	}

	data, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("failed to encode %s params: %w", method, err)
	}

	url := fmt.Sprintf("%s/bot%s/%s", c.baseURL, c.token, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		c.log.WithError(err).WithField("method", method).Error("Telegram request failed")
		return apperror.Upstream("Telegram API is unavailable", err)
	}
	defer resp.Body.Close()

	var body apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return apperror.Upstream(fmt.Sprintf("failed to decode Telegram response: status %d", resp.StatusCode), err)
	}
	if !body.OK {
		c.log.WithFields(map[string]interface{}{
			"method":     method,
			"error_code": body.ErrorCode,
		}).Warn("Telegram returned error")
		return apperror.Upstream("Telegram API error: "+body.Description, nil)
	}

	if dest == nil {
		return nil
	}
	if err := json.Unmarshal(body.Result, dest); err != nil {
		return apperror.Upstream("failed to decode Telegram result", err)
	}
	return nil
}

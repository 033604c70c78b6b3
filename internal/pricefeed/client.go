// Package pricefeed busca a cotação corrente de um ticker numa API HTTP externa.
package pricefeed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/radieske/wager-settlement-engine/internal/domain"
)

var ErrInvalidPrice = errors.New("invalid price data received")

// Client consulta URLTemplate substituindo {ticker} e {currency}; o preço é extraído
// do corpo JSON pelo caminho gjson JSONPath (ex.: "data.price" ou "0.close")
type Client struct {
	URLTemplate string
	JSONPath    string
	HTTP        *http.Client
}

func New(urlTemplate, jsonPath string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		URLTemplate: urlTemplate,
		JSONPath:    jsonPath,
		HTTP:        &http.Client{Timeout: timeout},
	}
}

func (c *Client) GetCurrentPrice(ctx context.Context, ticker string, cur domain.Currency) (float64, error) {
	u := strings.NewReplacer(
		"{ticker}", url.QueryEscape(strings.ToUpper(ticker)),
		"{currency}", url.QueryEscape(string(cur)),
	).Replace(c.URLTemplate)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Accept", "application/json")
	res, err := c.HTTP.Do(req)
	if err != nil {
		return 0, fmt.Errorf("price feed %s: %w", ticker, err)
	}
	defer res.Body.Close()
	if res.StatusCode >= 300 {
		return 0, fmt.Errorf("price feed %s: http %d", ticker, res.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return 0, fmt.Errorf("price feed %s: read body: %w", ticker, err)
	}
	if !gjson.ValidBytes(body) {
		return 0, fmt.Errorf("%w: %s: malformed json", ErrInvalidPrice, ticker)
	}

	v := gjson.GetBytes(body, c.JSONPath)
	if !v.Exists() || (v.Type != gjson.Number && v.Type != gjson.String) {
		return 0, fmt.Errorf("%w: %s: path %q missing", ErrInvalidPrice, ticker, c.JSONPath)
	}
	price := v.Float()
	if price <= 0 || math.IsNaN(price) || math.IsInf(price, 0) {
		return 0, fmt.Errorf("%w: %s: %v", ErrInvalidPrice, ticker, v.Raw)
	}
	return price, nil
}

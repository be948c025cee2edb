// Package binance is a REST adapter for Binance spot and USDT-margined
// futures. All requests pass through a token-bucket limiter and a circuit
// breaker so a misbehaving venue degrades loudly instead of hammering.
package binance

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/tickdrive/tickdrive/internal/domain"
	"github.com/tickdrive/tickdrive/internal/exchange"
)

const (
	spotBaseURL    = "https://api.binance.com"
	futuresBaseURL = "https://fapi.binance.com"

	requestTimeout = 5 * time.Second
)

// Config carries credentials and transport settings.
type Config struct {
	APIKey    string
	APISecret string
	Market    domain.MarketType
	ProxyURL  string // optional, e.g. http://127.0.0.1:7890
	BaseURL   string // override for tests
}

// Client implements exchange.Exchange against the Binance REST API.
type Client struct {
	cfg     Config
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
}

var _ exchange.Exchange = (*Client)(nil)

// New builds a client. Spot and futures share request shapes but differ in
// base URL and path prefix.
func New(cfg Config) (*Client, error) {
	base := cfg.BaseURL
	if base == "" {
		if cfg.Market == domain.MarketFuture {
			base = futuresBaseURL
		} else {
			base = spotBaseURL
		}
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.ProxyURL != "" {
		proxy, err := url.Parse(cfg.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("parse proxy url: %w", err)
		}
		transport.Proxy = http.ProxyURL(proxy)
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "binance",
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).
				Str("from", from.String()).Str("to", to.String()).
				Msg("exchange breaker state change")
		},
	})

	return &Client{
		cfg:     cfg,
		baseURL: base,
		http:    &http.Client{Timeout: requestTimeout, Transport: transport},
		// Binance allows 1200 request weight per minute; stay well under.
		limiter: rate.NewLimiter(rate.Limit(10), 20),
		breaker: breaker,
	}, nil
}

// compactSymbol converts BTC/USDT to the BTCUSDT form Binance expects.
func compactSymbol(symbol string) string {
	return strings.ReplaceAll(symbol, "/", "")
}

func (c *Client) apiPath(endpoint string) string {
	if c.cfg.Market == domain.MarketFuture {
		return "/fapi/v1/" + endpoint
	}
	return "/api/v3/" + endpoint
}

func (c *Client) do(ctx context.Context, method, path string, params url.Values, signed bool, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, c.doOnce(ctx, method, path, params, signed, out)
	})
	return err
}

func (c *Client) doOnce(ctx context.Context, method, path string, params url.Values, signed bool, out interface{}) error {
	if params == nil {
		params = url.Values{}
	}
	if signed {
		params.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
		mac := hmac.New(sha256.New, []byte(c.cfg.APISecret))
		mac.Write([]byte(params.Encode()))
		params.Set("signature", hex.EncodeToString(mac.Sum(nil)))
	}

	reqURL := c.baseURL + path
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, reqURL, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if c.cfg.APIKey != "" {
		req.Header.Set("X-MBX-APIKEY", c.cfg.APIKey)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("%s %s: rate limited by venue", method, path)
	}
	if resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Code int    `json:"code"`
			Msg  string `json:"msg"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		return fmt.Errorf("%s %s: HTTP %d code=%d %s", method, path, resp.StatusCode, apiErr.Code, apiErr.Msg)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode %s response: %w", path, err)
		}
	}

	log.Debug().Str("path", path).Dur("duration", time.Since(start)).Msg("exchange request")
	return nil
}

func (c *Client) FetchBars(ctx context.Context, symbol, timeframe string, sinceTS int64, limit int) ([]domain.Bar, error) {
	params := url.Values{}
	params.Set("symbol", compactSymbol(symbol))
	params.Set("interval", timeframe)
	if sinceTS > 0 {
		params.Set("startTime", strconv.FormatInt(sinceTS*1000, 10))
	}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}

	// Klines arrive as arrays of mixed numbers and strings.
	var raw [][]json.RawMessage
	if err := c.do(ctx, http.MethodGet, c.apiPath("klines"), params, false, &raw); err != nil {
		return nil, err
	}

	bars := make([]domain.Bar, 0, len(raw))
	for _, row := range raw {
		if len(row) < 6 {
			continue
		}
		var openMS int64
		if err := json.Unmarshal(row[0], &openMS); err != nil {
			return nil, fmt.Errorf("parse kline open time: %w", err)
		}
		fields := make([]float64, 5)
		for i := 0; i < 5; i++ {
			var s string
			if err := json.Unmarshal(row[i+1], &s); err != nil {
				return nil, fmt.Errorf("parse kline field %d: %w", i+1, err)
			}
			v, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return nil, fmt.Errorf("parse kline field %d: %w", i+1, err)
			}
			fields[i] = v
		}
		bars = append(bars, domain.Bar{
			Symbol:    compactSymbol(symbol),
			Timeframe: timeframe,
			Timestamp: openMS / 1000,
			Market:    c.cfg.Market,
			Open:      fields[0],
			High:      fields[1],
			Low:       fields[2],
			Close:     fields[3],
			Volume:    fields[4],
		})
	}
	return bars, nil
}

func (c *Client) FetchTicker(ctx context.Context, symbol string) (*exchange.Ticker, error) {
	params := url.Values{}
	params.Set("symbol", compactSymbol(symbol))

	var raw struct {
		Symbol  string `json:"symbol"`
		Last    string `json:"lastPrice"`
		Bid     string `json:"bidPrice"`
		Ask     string `json:"askPrice"`
		CloseTS int64  `json:"closeTime"`
	}
	if err := c.do(ctx, http.MethodGet, c.apiPath("ticker/24hr"), params, false, &raw); err != nil {
		return nil, err
	}

	last, _ := strconv.ParseFloat(raw.Last, 64)
	bid, _ := strconv.ParseFloat(raw.Bid, 64)
	ask, _ := strconv.ParseFloat(raw.Ask, 64)
	return &exchange.Ticker{
		Symbol:    raw.Symbol,
		Last:      last,
		Bid:       bid,
		Ask:       ask,
		Timestamp: raw.CloseTS / 1000,
	}, nil
}

func (c *Client) FetchOrderBook(ctx context.Context, symbol string, depth int) (*exchange.OrderBook, error) {
	if depth <= 0 {
		depth = 20
	}
	params := url.Values{}
	params.Set("symbol", compactSymbol(symbol))
	params.Set("limit", strconv.Itoa(depth))

	var raw struct {
		Bids [][2]string `json:"bids"`
		Asks [][2]string `json:"asks"`
	}
	if err := c.do(ctx, http.MethodGet, c.apiPath("depth"), params, false, &raw); err != nil {
		return nil, err
	}

	parse := func(levels [][2]string) []exchange.OrderBookLevel {
		out := make([]exchange.OrderBookLevel, 0, len(levels))
		for _, lv := range levels {
			price, _ := strconv.ParseFloat(lv[0], 64)
			qty, _ := strconv.ParseFloat(lv[1], 64)
			out = append(out, exchange.OrderBookLevel{Price: price, Qty: qty})
		}
		return out
	}
	return &exchange.OrderBook{
		Symbol:    compactSymbol(symbol),
		Bids:      parse(raw.Bids),
		Asks:      parse(raw.Asks),
		Timestamp: time.Now().Unix(),
	}, nil
}

type binanceOrder struct {
	OrderID     int64  `json:"orderId"`
	Symbol      string `json:"symbol"`
	Side        string `json:"side"`
	Type        string `json:"type"`
	Status      string `json:"status"`
	OrigQty     string `json:"origQty"`
	ExecutedQty string `json:"executedQty"`
	AvgPrice    string `json:"avgPrice"`
	UpdateTime  int64  `json:"updateTime"`
}

func (o binanceOrder) toOrder() *exchange.Order {
	qty, _ := strconv.ParseFloat(o.OrigQty, 64)
	filled, _ := strconv.ParseFloat(o.ExecutedQty, 64)
	avg, _ := strconv.ParseFloat(o.AvgPrice, 64)
	return &exchange.Order{
		ID:        strconv.FormatInt(o.OrderID, 10),
		Symbol:    o.Symbol,
		Side:      o.Side,
		Type:      o.Type,
		Status:    o.Status,
		Qty:       qty,
		FilledQty: filled,
		AvgPrice:  avg,
		Timestamp: o.UpdateTime / 1000,
	}
}

func (c *Client) CreateOrder(ctx context.Context, req exchange.OrderRequest) (*exchange.Order, error) {
	params := url.Values{}
	params.Set("symbol", compactSymbol(req.Symbol))
	params.Set("side", req.Side)
	params.Set("type", req.Type)
	params.Set("quantity", strconv.FormatFloat(req.Qty, 'f', -1, 64))
	if req.Type == "LIMIT" {
		params.Set("price", strconv.FormatFloat(req.Price, 'f', -1, 64))
		params.Set("timeInForce", "GTC")
	}

	var raw binanceOrder
	if err := c.do(ctx, http.MethodPost, c.apiPath("order"), params, true, &raw); err != nil {
		return nil, err
	}
	return raw.toOrder(), nil
}

func (c *Client) CancelOrder(ctx context.Context, symbol, orderID string) error {
	params := url.Values{}
	params.Set("symbol", compactSymbol(symbol))
	params.Set("orderId", orderID)
	return c.do(ctx, http.MethodDelete, c.apiPath("order"), params, true, nil)
}

func (c *Client) FetchOrder(ctx context.Context, symbol, orderID string) (*exchange.Order, error) {
	params := url.Values{}
	params.Set("symbol", compactSymbol(symbol))
	params.Set("orderId", orderID)

	var raw binanceOrder
	if err := c.do(ctx, http.MethodGet, c.apiPath("order"), params, true, &raw); err != nil {
		return nil, err
	}
	return raw.toOrder(), nil
}

func (c *Client) FetchBalance(ctx context.Context) ([]exchange.Balance, error) {
	var raw struct {
		Balances []struct {
			Asset  string `json:"asset"`
			Free   string `json:"free"`
			Locked string `json:"locked"`
		} `json:"balances"`
	}
	if err := c.do(ctx, http.MethodGet, c.apiPath("account"), nil, true, &raw); err != nil {
		return nil, err
	}

	out := make([]exchange.Balance, 0, len(raw.Balances))
	for _, b := range raw.Balances {
		free, _ := strconv.ParseFloat(b.Free, 64)
		locked, _ := strconv.ParseFloat(b.Locked, 64)
		if free == 0 && locked == 0 {
			continue
		}
		out = append(out, exchange.Balance{Asset: b.Asset, Free: free, Locked: locked})
	}
	return out, nil
}

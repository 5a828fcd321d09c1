package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"quant-trade-bot-go/internal/config"
	"quant-trade-bot-go/internal/market"
)

const (
	futuresBaseURL        = "https://fapi.binance.com"
	futuresTestnetBaseURL = "https://testnet.binancefuture.com"
	recvWindow            = "5000" // How long a request is valid in milliseconds
)

// BinanceClient is a client for the Binance USDT-margined futures REST API.
// It implements the Exchange interface.
type BinanceClient struct {
	client    *resty.Client
	apiKey    string
	secretKey string
	logger    *zap.Logger
	limiter   *rate.Limiter
}

// ensure BinanceClient implements the interface
var _ Exchange = (*BinanceClient)(nil)

// NewBinanceClient creates a new Binance futures REST API client.
func NewBinanceClient(cfg *config.Exchange, logger *zap.Logger) *BinanceClient {
	var base string
	if cfg.Testnet {
		base = futuresTestnetBaseURL
		logger.Warn("Using Binance futures testnet")
	} else {
		base = futuresBaseURL
		logger.Info("Using Binance futures production API")
	}

	client := resty.New().SetBaseURL(base)

	// rate.Limit is requests per second.
	limiter := rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateLimitBurst)

	return &BinanceClient{
		client:    client,
		apiKey:    cfg.ApiKey,
		secretKey: cfg.SecretKey,
		logger:    logger,
		limiter:   limiter,
	}
}

// sign creates a HMAC-SHA256 signature for the request.
func (c *BinanceClient) sign(data string) string {
	h := hmac.New(sha256.New, []byte(c.secretKey))
	h.Write([]byte(data))
	return hex.EncodeToString(h.Sum(nil))
}

// doRequest executes a request with rate limiting. Read-only calls retry on
// 429/5xx with exponential backoff; order mutations never retry inside one
// call, because a timed-out submission has an unknown outcome and retrying
// could double the position. Callers reconcile instead.
func (c *BinanceClient) doRequest(ctx context.Context, method, path string, req *resty.Request, retryable bool) (*resty.Response, error) {
	maxAttempts := 1
	if retryable {
		maxAttempts = 3
	}

	var resp *resty.Response
	var err error

	for i := 0; i < maxAttempts; i++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%w: rate limiter wait: %v", ErrUnavailable, err)
		}

		c.logger.Debug("Executing request", zap.String("method", method), zap.String("url", c.client.BaseURL+path))
		resp, err = req.SetContext(ctx).Execute(method, path)

		if err == nil && !resp.IsError() {
			return resp, nil
		}

		shouldRetry := false
		var retryAfter time.Duration

		if resp != nil && err == nil {
			statusCode := resp.StatusCode()
			if statusCode == http.StatusTooManyRequests || statusCode == 418 {
				shouldRetry = true
				if seconds, convErr := strconv.Atoi(resp.Header().Get("Retry-After")); convErr == nil {
					retryAfter = time.Duration(seconds) * time.Second
				}
			} else if statusCode >= 500 {
				shouldRetry = true
			} else {
				// Well-formed request the exchange refused.
				return nil, fmt.Errorf("%w: status %s: %s", ErrRejected, resp.Status(), resp.String())
			}
		} else {
			// Network error or timeout.
			shouldRetry = true
		}

		if !retryable || !shouldRetry || i == maxAttempts-1 {
			break
		}

		if retryAfter == 0 {
			// Exponential backoff: 1s, 2s, 4s
			retryAfter = time.Duration(math.Pow(2, float64(i))) * time.Second
		}
		c.logger.Warn("Request failed, retrying...",
			zap.Int("attempt", i+1),
			zap.Duration("retry_after", retryAfter),
			zap.Error(err))

		select {
		case <-time.After(retryAfter):
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, ctx.Err())
		}
	}

	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil, fmt.Errorf("%w: status %s: %s", ErrUnavailable, resp.Status(), resp.String())
}

// signedParams appends timestamp, recvWindow and the request signature.
func (c *BinanceClient) signedParams(params url.Values) url.Values {
	params.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
	params.Set("recvWindow", recvWindow)
	params.Set("signature", c.sign(params.Encode()))
	return params
}

// GetKlines fetches historical candlesticks and converts them to price bars.
func (c *BinanceClient) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]market.PriceBar, error) {
	// Binance returns klines as a JSON array of arrays with string prices.
	var raw [][]interface{}

	req := c.client.R().
		SetQueryParams(map[string]string{
			"symbol":   symbol,
			"interval": interval,
			"limit":    strconv.Itoa(limit),
		}).
		SetResult(&raw)

	if _, err := c.doRequest(ctx, "GET", "/fapi/v1/klines", req, true); err != nil {
		return nil, fmt.Errorf("failed to get klines for %s: %w", symbol, err)
	}

	bars := make([]market.PriceBar, 0, len(raw))
	for _, k := range raw {
		if len(k) < 6 {
			continue
		}
		bar, err := parseKline(k)
		if err != nil {
			c.logger.Warn("Skipping malformed kline", zap.String("symbol", symbol), zap.Error(err))
			continue
		}
		bars = append(bars, bar)
	}

	if err := market.ValidateSeries(bars); err != nil {
		return nil, fmt.Errorf("klines for %s: %w", symbol, err)
	}
	return bars, nil
}

func parseKline(k []interface{}) (market.PriceBar, error) {
	ts, ok := k[0].(float64)
	if !ok {
		return market.PriceBar{}, fmt.Errorf("unexpected open time type %T", k[0])
	}

	fields := make([]float64, 5)
	for i := 1; i <= 5; i++ {
		s, ok := k[i].(string)
		if !ok {
			return market.PriceBar{}, fmt.Errorf("unexpected kline field type %T", k[i])
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return market.PriceBar{}, fmt.Errorf("parsing kline field %d: %w", i, err)
		}
		fields[i-1] = v
	}

	return market.PriceBar{
		Timestamp: time.UnixMilli(int64(ts)).UTC(),
		Open:      fields[0],
		High:      fields[1],
		Low:       fields[2],
		Close:     fields[3],
		Volume:    fields[4],
	}, nil
}

type orderResponse struct {
	OrderID     int64  `json:"orderId"`
	Status      string `json:"status"`
	ExecutedQty string `json:"executedQty"`
	AvgPrice    string `json:"avgPrice"`
	UpdateTime  int64  `json:"updateTime"`
}

// SubmitOrder places an order. The result status is the exchange's, mapped
// onto the lifecycle statuses; a MARKET order usually comes back FILLED.
func (c *BinanceClient) SubmitOrder(ctx context.Context, order Order) (OrderResult, error) {
	params := url.Values{}
	params.Set("symbol", order.Symbol)
	params.Set("side", order.Side)
	params.Set("type", order.Type)
	params.Set("quantity", strconv.FormatFloat(order.Quantity, 'f', -1, 64))
	params.Set("newClientOrderId", order.ID)
	if order.Type == TypeStop {
		params.Set("stopPrice", strconv.FormatFloat(order.Price, 'f', -1, 64))
	} else if order.Type == TypeLimit {
		params.Set("price", strconv.FormatFloat(order.Price, 'f', -1, 64))
		params.Set("timeInForce", "GTC")
	}

	var result orderResponse
	req := c.client.R().
		SetHeader("X-MBX-APIKEY", c.apiKey).
		SetHeader("Content-Type", "application/x-www-form-urlencoded").
		SetBody(c.signedParams(params).Encode()).
		SetResult(&result)

	if _, err := c.doRequest(ctx, "POST", "/fapi/v1/order", req, false); err != nil {
		c.logger.Error("Failed to submit order",
			zap.String("symbol", order.Symbol),
			zap.String("client_order_id", order.ID),
			zap.Error(err))
		return OrderResult{}, fmt.Errorf("failed to submit order: %w", err)
	}

	filled, _ := strconv.ParseFloat(result.ExecutedQty, 64)
	avg, _ := strconv.ParseFloat(result.AvgPrice, 64)

	return OrderResult{
		OrderID:     strconv.FormatInt(result.OrderID, 10),
		Status:      mapOrderStatus(result.Status),
		FilledQty:   filled,
		AvgPrice:    avg,
		SubmittedAt: time.UnixMilli(result.UpdateTime).UTC(),
	}, nil
}

func mapOrderStatus(s string) string {
	switch s {
	case "FILLED":
		return StatusFilled
	case "CANCELED", "EXPIRED":
		return StatusCancelled
	case "REJECTED":
		return StatusRejected
	default: // NEW, PARTIALLY_FILLED
		return StatusPending
	}
}

// CancelOrder cancels an open order by its exchange id.
func (c *BinanceClient) CancelOrder(ctx context.Context, symbol, orderID string) error {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("orderId", orderID)

	req := c.client.R().
		SetHeader("X-MBX-APIKEY", c.apiKey).
		SetHeader("Content-Type", "application/x-www-form-urlencoded").
		SetBody(c.signedParams(params).Encode())

	if _, err := c.doRequest(ctx, "DELETE", "/fapi/v1/order", req, false); err != nil {
		return fmt.Errorf("failed to cancel order %s: %w", orderID, err)
	}
	return nil
}

type positionRisk struct {
	Symbol      string `json:"symbol"`
	PositionAmt string `json:"positionAmt"`
	EntryPrice  string `json:"entryPrice"`
	Leverage    string `json:"leverage"`
}

// GetOpenPositions returns the exchange's view of open positions. Flat
// symbols (zero quantity) are filtered out.
func (c *BinanceClient) GetOpenPositions(ctx context.Context) ([]PositionInfo, error) {
	var raw []positionRisk

	params := c.signedParams(url.Values{})
	req := c.client.R().
		SetHeader("X-MBX-APIKEY", c.apiKey).
		SetQueryParamsFromValues(params).
		SetResult(&raw)

	if _, err := c.doRequest(ctx, "GET", "/fapi/v2/positionRisk", req, true); err != nil {
		return nil, fmt.Errorf("failed to get open positions: %w", err)
	}

	var positions []PositionInfo
	for _, p := range raw {
		amt, err := strconv.ParseFloat(p.PositionAmt, 64)
		if err != nil || amt == 0 {
			continue
		}
		entry, _ := strconv.ParseFloat(p.EntryPrice, 64)
		lev, _ := strconv.ParseFloat(p.Leverage, 64)

		dir := market.Long
		if amt < 0 {
			dir = market.Short
			amt = -amt
		}
		positions = append(positions, PositionInfo{
			Symbol:     p.Symbol,
			Direction:  dir,
			Quantity:   amt,
			EntryPrice: entry,
			Leverage:   lev,
		})
	}
	return positions, nil
}

type balanceEntry struct {
	Asset         string `json:"asset"`
	Balance       string `json:"balance"`
	CrossUnPnL    string `json:"crossUnPnl"`
	AvailableBal  string `json:"availableBalance"`
	MarginBalance string `json:"marginBalance"`
}

// GetAccountEquity returns the USDT wallet balance plus unrealized P&L.
func (c *BinanceClient) GetAccountEquity(ctx context.Context) (float64, error) {
	var raw []balanceEntry

	params := c.signedParams(url.Values{})
	req := c.client.R().
		SetHeader("X-MBX-APIKEY", c.apiKey).
		SetQueryParamsFromValues(params).
		SetResult(&raw)

	if _, err := c.doRequest(ctx, "GET", "/fapi/v2/balance", req, true); err != nil {
		return 0, fmt.Errorf("failed to get account balance: %w", err)
	}

	for _, b := range raw {
		if b.Asset != "USDT" {
			continue
		}
		bal, _ := strconv.ParseFloat(b.Balance, 64)
		upnl, _ := strconv.ParseFloat(b.CrossUnPnL, 64)
		return bal + upnl, nil
	}
	return 0, fmt.Errorf("%w: no USDT balance in response", ErrRejected)
}

// SetLeverage sets the leverage multiplier for a symbol.
func (c *BinanceClient) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("leverage", strconv.Itoa(leverage))

	req := c.client.R().
		SetHeader("X-MBX-APIKEY", c.apiKey).
		SetHeader("Content-Type", "application/x-www-form-urlencoded").
		SetBody(c.signedParams(params).Encode())

	if _, err := c.doRequest(ctx, "POST", "/fapi/v1/leverage", req, true); err != nil {
		return fmt.Errorf("failed to set leverage for %s: %w", symbol, err)
	}
	return nil
}

package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"market-quoter-go/order"
)

// RESTClient 现货 REST 客户端，签名请求走 HMAC-SHA256。
// HTTPClient 可注入 httptest，默认不发起真实网络调用的测试都走注入。
type RESTClient struct {
	BaseURL    string
	APIKey     string
	Secret     string
	HTTPClient *http.Client
	Limiter    interface {
		Wait(ctx context.Context) error
	} // 可为 nil
}

// NewDefaultHTTPClient 提供一个带超时的 http.Client。
func NewDefaultHTTPClient() *http.Client {
	return &http.Client{Timeout: 10 * time.Second}
}

func (c *RESTClient) wait(ctx context.Context) error {
	if c.Limiter == nil {
		return nil
	}
	return c.Limiter.Wait(ctx)
}

func (c *RESTClient) sign(query string) string {
	h := hmac.New(sha256.New, []byte(c.Secret))
	h.Write([]byte(query))
	return fmt.Sprintf("%x", h.Sum(nil))
}

// signedRequest 发出带时间戳与签名的请求，解析 JSON 到 out（可为 nil）。
func (c *RESTClient) signedRequest(ctx context.Context, method, path string, params url.Values, out any) error {
	if c.HTTPClient == nil {
		return fmt.Errorf("http client not set")
	}
	if err := c.wait(ctx); err != nil {
		return err
	}
	params.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
	query := params.Encode()
	endpoint := c.BaseURL + path + "?" + query + "&signature=" + url.QueryEscape(c.sign(query))

	req, err := http.NewRequestWithContext(ctx, method, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("X-MBX-APIKEY", c.APIKey)
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s %s status %d: %s", method, path, resp.StatusCode, body)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

type restOrder struct {
	OrderID     int64  `json:"orderId"`
	Symbol      string `json:"symbol"`
	Side        string `json:"side"`
	Price       string `json:"price"`
	OrigQty     string `json:"origQty"`
	ExecutedQty string `json:"executedQty"`
	Status      string `json:"status"`
	Time        int64  `json:"time"`
}

func (r restOrder) toOrder() (order.Order, error) {
	price, err := strconv.ParseFloat(r.Price, 64)
	if err != nil {
		return order.Order{}, fmt.Errorf("parse price %q: %w", r.Price, err)
	}
	qty, err := strconv.ParseFloat(r.OrigQty, 64)
	if err != nil {
		return order.Order{}, fmt.Errorf("parse quantity %q: %w", r.OrigQty, err)
	}
	filled := 0.0
	if r.ExecutedQty != "" {
		if filled, err = strconv.ParseFloat(r.ExecutedQty, 64); err != nil {
			return order.Order{}, fmt.Errorf("parse executedQty %q: %w", r.ExecutedQty, err)
		}
	}
	o := order.Order{
		ID:       strconv.FormatInt(r.OrderID, 10),
		Symbol:   r.Symbol,
		Side:     r.Side,
		Price:    price,
		Quantity: qty,
		Filled:   filled,
		Status:   order.Status(r.Status),
	}
	if r.Time > 0 {
		o.CreatedAt = time.UnixMilli(r.Time)
	}
	return o, nil
}

// PlaceOrder 提交限价单（GTC）。
func (c *RESTClient) PlaceOrder(ctx context.Context, symbol, side, orderType string, quantity, price float64) (order.Order, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("side", side)
	params.Set("type", orderType)
	params.Set("timeInForce", "GTC")
	params.Set("price", strconv.FormatFloat(price, 'f', -1, 64))
	params.Set("quantity", strconv.FormatFloat(quantity, 'f', -1, 64))

	var r restOrder
	if err := c.signedRequest(ctx, http.MethodPost, "/api/v3/order", params, &r); err != nil {
		return order.Order{}, err
	}
	if r.OrderID == 0 {
		return order.Order{}, fmt.Errorf("empty orderId in place response")
	}
	o, err := r.toOrder()
	if err != nil {
		// 服务端已接单，解析失败也要把 ID 带回去
		return order.Order{
			ID: strconv.FormatInt(r.OrderID, 10), Symbol: symbol, Side: side,
			Price: price, Quantity: quantity, Status: order.StatusNew,
		}, nil
	}
	if o.Symbol == "" {
		o.Symbol = symbol
	}
	if o.Side == "" {
		o.Side = side
	}
	return o, nil
}

// CancelOrder 撤单。
func (c *RESTClient) CancelOrder(ctx context.Context, symbol, orderID string) error {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("orderId", orderID)
	return c.signedRequest(ctx, http.MethodDelete, "/api/v3/order", params, nil)
}

// OpenOrders 拉取全部在途订单。
func (c *RESTClient) OpenOrders(ctx context.Context, symbol string) ([]order.Order, error) {
	params := url.Values{}
	params.Set("symbol", symbol)

	var raw []restOrder
	if err := c.signedRequest(ctx, http.MethodGet, "/api/v3/openOrders", params, &raw); err != nil {
		return nil, err
	}
	out := make([]order.Order, 0, len(raw))
	for _, r := range raw {
		o, err := r.toOrder()
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, nil
}

type depthResp struct {
	Bids [][2]string `json:"bids"`
	Asks [][2]string `json:"asks"`
}

func parseLevels(raw [][2]string) ([]PriceLevel, error) {
	out := make([]PriceLevel, 0, len(raw))
	for _, lv := range raw {
		price, err := strconv.ParseFloat(lv[0], 64)
		if err != nil {
			return nil, fmt.Errorf("parse depth price %q: %w", lv[0], err)
		}
		qty, err := strconv.ParseFloat(lv[1], 64)
		if err != nil {
			return nil, fmt.Errorf("parse depth qty %q: %w", lv[1], err)
		}
		out = append(out, PriceLevel{Price: price, Quantity: qty})
	}
	return out, nil
}

// TopOfBook 拉取顶档快照，公开接口不签名。
func (c *RESTClient) TopOfBook(ctx context.Context, symbol string, depth int) (Book, error) {
	if c.HTTPClient == nil {
		return Book{}, fmt.Errorf("http client not set")
	}
	if err := c.wait(ctx); err != nil {
		return Book{}, err
	}
	endpoint := fmt.Sprintf("%s/api/v3/depth?symbol=%s&limit=%d", c.BaseURL, url.QueryEscape(symbol), depth)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Book{}, err
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return Book{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return Book{}, fmt.Errorf("depth status %d", resp.StatusCode)
	}
	var d depthResp
	if err := json.NewDecoder(resp.Body).Decode(&d); err != nil {
		return Book{}, err
	}
	bids, err := parseLevels(d.Bids)
	if err != nil {
		return Book{}, err
	}
	asks, err := parseLevels(d.Asks)
	if err != nil {
		return Book{}, err
	}
	return Book{Bids: bids, Asks: asks}, nil
}

type accountResp struct {
	Balances []struct {
		Asset  string `json:"asset"`
		Free   string `json:"free"`
		Locked string `json:"locked"`
	} `json:"balances"`
}

// Balances 拉取账户余额快照。
func (c *RESTClient) Balances(ctx context.Context) ([]Balance, error) {
	var a accountResp
	if err := c.signedRequest(ctx, http.MethodGet, "/api/v3/account", url.Values{}, &a); err != nil {
		return nil, err
	}
	out := make([]Balance, 0, len(a.Balances))
	for _, b := range a.Balances {
		free, err := strconv.ParseFloat(b.Free, 64)
		if err != nil {
			return nil, fmt.Errorf("parse balance %s free %q: %w", b.Asset, b.Free, err)
		}
		locked, err := strconv.ParseFloat(b.Locked, 64)
		if err != nil {
			return nil, fmt.Errorf("parse balance %s locked %q: %w", b.Asset, b.Locked, err)
		}
		out = append(out, Balance{Asset: b.Asset, Available: free, Locked: locked})
	}
	return out, nil
}

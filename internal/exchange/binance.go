package exchange

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"binance-perp-grid-go/internal/models"
)

// BinanceExchange 实现了 Exchange 接口，与币安 USDT 永续 API 交互。
type BinanceExchange struct {
	apiKey     string
	secretKey  string
	baseURL    string
	wsBaseURL  string
	httpClient *http.Client
	logger     *zap.Logger
	timeOffset int64
}

// NewBinanceExchange 创建实例并与服务器同步时间。
func NewBinanceExchange(apiKey, secretKey, baseURL, wsBaseURL string, logger *zap.Logger) (*BinanceExchange, error) {
	e := &BinanceExchange{
		apiKey:     apiKey,
		secretKey:  secretKey,
		baseURL:    baseURL,
		wsBaseURL:  wsBaseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger,
	}

	if err := e.syncTime(); err != nil {
		return nil, fmt.Errorf("与币安服务器同步时间失败: %v", err)
	}

	return e, nil
}

// syncTime 与币安服务器同步时间，计算时间偏移。
func (e *BinanceExchange) syncTime() error {
	serverTime, err := e.GetServerTime()
	if err != nil {
		return err
	}
	localTime := time.Now().UnixMilli()
	e.timeOffset = serverTime - localTime
	e.logger.Info("与币安服务器时间同步完成", zap.Int64("timeOffset (ms)", e.timeOffset))
	return nil
}

// doRequest 是一个通用的请求处理函数，用于向币安API发送请求。
func (e *BinanceExchange) doRequest(method, endpoint string, params url.Values, signed bool) ([]byte, error) {
	fullURL := fmt.Sprintf("%s%s", e.baseURL, endpoint)
	queryParams := url.Values{}
	if params != nil {
		for k, v := range params {
			queryParams[k] = v
		}
	}

	var encodedParams string
	if signed {
		// 签名请求需附带校正后的时间戳
		timestamp := time.Now().UnixMilli() + e.timeOffset
		queryParams.Set("timestamp", fmt.Sprintf("%d", timestamp))

		payloadToSign := queryParams.Encode()
		signature := e.sign(payloadToSign)
		encodedParams = fmt.Sprintf("%s&signature=%s", payloadToSign, signature)
	} else {
		encodedParams = queryParams.Encode()
	}

	var req *http.Request
	var err error

	if method == http.MethodGet {
		finalURL := fullURL
		if encodedParams != "" {
			finalURL = fmt.Sprintf("%s?%s", fullURL, encodedParams)
		}
		req, err = http.NewRequest(method, finalURL, nil)
	} else { // POST, PUT, DELETE
		req, err = http.NewRequest(method, fullURL, strings.NewReader(encodedParams))
		if req != nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	}

	if err != nil {
		return nil, fmt.Errorf("创建请求失败: %v", err)
	}

	req.Header.Set("X-MBX-APIKEY", e.apiKey)
	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("执行请求失败: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("读取响应体失败: %v", err)
	}

	var binanceError models.Error
	if json.Unmarshal(body, &binanceError) == nil && binanceError.Code != 0 {
		return body, &binanceError
	}

	if resp.StatusCode != http.StatusOK {
		// 将响应体随错误一起返回，便于上层记录细节
		return body, fmt.Errorf("API请求失败, 状态码: %d, 响应: %s", resp.StatusCode, string(body))
	}

	return body, nil
}

// sign 对请求参数进行签名。
func (e *BinanceExchange) sign(data string) string {
	h := hmac.New(sha256.New, []byte(e.secretKey))
	h.Write([]byte(data))
	return fmt.Sprintf("%x", h.Sum(nil))
}

// --- Exchange 接口实现 ---

// GetPrice 获取指定交易对的当前价格。
func (e *BinanceExchange) GetPrice(symbol string) (float64, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	data, err := e.doRequest(http.MethodGet, "/fapi/v1/ticker/price", params, false)
	if err != nil {
		return 0, err
	}

	var ticker struct {
		Price string `json:"price"`
	}
	if err := json.Unmarshal(data, &ticker); err != nil {
		return 0, err
	}

	return strconv.ParseFloat(ticker.Price, 64)
}

// FetchPosition 拉取对冲模式下的双向持仓并合并为一帧快照。
// 空头数量按内部约定转为负数。
func (e *BinanceExchange) FetchPosition(symbol string) (*models.PositionState, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	data, err := e.doRequest(http.MethodGet, "/fapi/v2/positionRisk", params, true)
	if err != nil {
		return nil, err
	}

	var positions []models.PositionRisk
	if err := json.Unmarshal(data, &positions); err != nil {
		return nil, err
	}

	state := &models.PositionState{}
	for _, p := range positions {
		amt, _ := strconv.ParseFloat(p.PositionAmt, 64)
		entry, _ := strconv.ParseFloat(p.EntryPrice, 64)
		liq, _ := strconv.ParseFloat(p.LiquidationPrice, 64)
		switch p.PositionSide {
		case "LONG":
			state.LongPsize = amt
			if amt != 0 {
				state.LongPprice = entry
			}
		case "SHORT":
			state.ShrtPsize = amt // 交易所已用负数表示空头
			if amt != 0 {
				state.ShrtPprice = entry
			}
		}
		if liq > 0 {
			state.LiqPrice = liq
		}
	}
	return state, nil
}

// FetchOpenOrders 获取全部挂单并转换为内部订单表示。
func (e *BinanceExchange) FetchOpenOrders(symbol string) ([]models.Order, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	data, err := e.doRequest(http.MethodGet, "/fapi/v1/openOrders", params, true)
	if err != nil {
		return nil, err
	}

	var raw []models.OpenOrder
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}

	orders := make([]models.Order, 0, len(raw))
	for _, o := range raw {
		price, _ := strconv.ParseFloat(o.Price, 64)
		qty, _ := strconv.ParseFloat(o.OrigQty, 64)
		executed, _ := strconv.ParseFloat(o.ExecutedQty, 64)
		qty -= executed // 只关心仍在挂着的部分
		order := models.Order{
			OrderID:    o.OrderID,
			Price:      price,
			Tag:        o.ClientOrderID,
			ReduceOnly: o.ReduceOnly,
		}
		if o.Side == "BUY" {
			order.Side = models.Buy
			order.Qty = qty
		} else {
			order.Side = models.Sel
			order.Qty = -qty
		}
		if o.PositionSide == "SHORT" {
			order.PositionSide = models.Shrt
		} else {
			order.PositionSide = models.Long
		}
		orders = append(orders, order)
	}
	return orders, nil
}

// FetchFills 拉取 fromID 之后的成交记录。
func (e *BinanceExchange) FetchFills(symbol string, fromID int64) ([]models.UserTrade, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	if fromID > 0 {
		params.Set("fromId", strconv.FormatInt(fromID, 10))
	}
	params.Set("limit", "1000")
	data, err := e.doRequest(http.MethodGet, "/fapi/v1/userTrades", params, true)
	if err != nil {
		return nil, err
	}

	var trades []models.UserTrade
	if err := json.Unmarshal(data, &trades); err != nil {
		return nil, err
	}
	return trades, nil
}

// PlaceOrder 提交限价单。数量取绝对值，方向由符号决定。
func (e *BinanceExchange) PlaceOrder(symbol string, order models.Order) (int64, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("type", "LIMIT")
	params.Set("timeInForce", "GTC")
	params.Set("price", strconv.FormatFloat(order.Price, 'f', -1, 64))

	qty := order.Qty
	if qty < 0 {
		qty = -qty
		params.Set("side", "SELL")
	} else {
		params.Set("side", "BUY")
	}
	params.Set("quantity", strconv.FormatFloat(qty, 'f', -1, 64))

	if order.PositionSide == models.Shrt {
		params.Set("positionSide", "SHORT")
	} else {
		params.Set("positionSide", "LONG")
	}
	if order.Tag != "" {
		params.Set("newClientOrderId", order.Tag)
	}

	data, err := e.doRequest(http.MethodPost, "/fapi/v1/order", params, true)
	if err != nil {
		e.logger.Error("下单请求失败，交易所返回错误",
			zap.Error(err), zap.String("raw_response", string(data)))
		return 0, err
	}

	var resp struct {
		OrderID int64 `json:"orderId"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return 0, err
	}
	return resp.OrderID, nil
}

// CancelOrder 取消订单。
func (e *BinanceExchange) CancelOrder(symbol string, orderID int64) error {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("orderId", strconv.FormatInt(orderID, 10))
	_, err := e.doRequest(http.MethodDelete, "/fapi/v1/order", params, true)
	return err
}

// CancelAllOpenOrders 取消所有挂单。
func (e *BinanceExchange) CancelAllOpenOrders(symbol string) error {
	params := url.Values{}
	params.Set("symbol", symbol)
	_, err := e.doRequest(http.MethodDelete, "/fapi/v1/allOpenOrders", params, true)
	return err
}

// SetLeverage 设置杠杆。
func (e *BinanceExchange) SetLeverage(symbol string, leverage int) error {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("leverage", strconv.Itoa(leverage))
	_, err := e.doRequest(http.MethodPost, "/fapi/v1/leverage", params, true)
	return err
}

// SetHedgeMode 开启双向持仓模式。已是目标模式时交易所返回 -4059，忽略。
func (e *BinanceExchange) SetHedgeMode() error {
	params := url.Values{}
	params.Set("dualSidePosition", "true")
	_, err := e.doRequest(http.MethodPost, "/fapi/v1/positionSide/dual", params, true)
	if err != nil {
		if binanceErr, ok := err.(*models.Error); ok && binanceErr.Code == -4059 {
			e.logger.Info("持仓模式无需更改，已是双向持仓。")
			return nil
		}
		return err
	}
	return nil
}

// SetCrossMargin 设置全仓保证金模式。已是目标模式时交易所返回 -4046，忽略。
func (e *BinanceExchange) SetCrossMargin(symbol string) error {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("marginType", "CROSSED")
	_, err := e.doRequest(http.MethodPost, "/fapi/v1/marginType", params, true)
	if err != nil {
		if binanceErr, ok := err.(*models.Error); ok && binanceErr.Code == -4046 {
			e.logger.Info("保证金模式无需更改，已是全仓。")
			return nil
		}
		return err
	}
	return nil
}

// GetSymbolInfo 获取交易对的交易规则。
func (e *BinanceExchange) GetSymbolInfo(symbol string) (*models.SymbolInfo, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	data, err := e.doRequest(http.MethodGet, "/fapi/v1/exchangeInfo", params, false)
	if err != nil {
		return nil, err
	}

	var exchangeInfo models.ExchangeInfo
	if err := json.Unmarshal(data, &exchangeInfo); err != nil {
		return nil, err
	}

	for _, s := range exchangeInfo.Symbols {
		if s.Symbol == symbol {
			return &s, nil
		}
	}

	return nil, fmt.Errorf("未找到交易对 %s 的信息", symbol)
}

// GetServerTime 获取服务器时间。
func (e *BinanceExchange) GetServerTime() (int64, error) {
	data, err := e.doRequest(http.MethodGet, "/fapi/v1/time", nil, false)
	if err != nil {
		return 0, err
	}
	var serverTime struct {
		ServerTime int64 `json:"serverTime"`
	}
	if err := json.Unmarshal(data, &serverTime); err != nil {
		return 0, err
	}
	return serverTime.ServerTime, nil
}

// GetBalance 获取 USDT 钱包余额。
func (e *BinanceExchange) GetBalance() (float64, error) {
	data, err := e.doRequest(http.MethodGet, "/fapi/v2/balance", nil, true)
	if err != nil {
		return 0, fmt.Errorf("获取账户余额失败: %v", err)
	}

	var balances []models.AssetBalance
	if err := json.Unmarshal(data, &balances); err != nil {
		return 0, fmt.Errorf("解析余额数据失败: %v", err)
	}

	for _, b := range balances {
		if b.Asset == "USDT" {
			return strconv.ParseFloat(b.Balance, 64)
		}
	}

	return 0, fmt.Errorf("未找到 USDT 余额")
}

package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"binance-perp-grid-go/internal/models"
)

const (
	wsPingInterval = 3 * time.Minute
	wsReadTimeout  = 10 * time.Minute
)

// aggTradeEvent 对应 <symbol>@aggTrade 推送的报文。
type aggTradeEvent struct {
	EventType    string `json:"e"`
	Price        string `json:"p"`
	Quantity     string `json:"q"`
	TradeTime    int64  `json:"T"`
	IsBuyerMaker bool   `json:"m"`
}

// StreamAggTrades 订阅聚合成交流并把解析后的 tick 推入 out。
// 连接断开或报文解析失败时返回错误，由调用方决定是否重连；
// ctx 取消时正常退出并关闭连接。
func (e *BinanceExchange) StreamAggTrades(ctx context.Context, symbol string, out chan<- models.Tick) error {
	wsURL := fmt.Sprintf("%s/ws/%s@aggTrade", e.wsBaseURL, strings.ToLower(symbol))
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		return fmt.Errorf("无法连接到 WebSocket: %v", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	})

	e.logger.Info("已订阅聚合成交流", zap.String("url", wsURL))

	// 服务端要求客户端定期发 ping，否则 10 分钟后断开
	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(wsPingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				deadline := time.Now().Add(10 * time.Second)
				if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
					return
				}
			case <-ctx.Done():
				conn.Close()
				return
			case <-done:
				return
			}
		}
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("读取 WebSocket 消息失败: %v", err)
		}

		var ev aggTradeEvent
		if err := json.Unmarshal(msg, &ev); err != nil {
			e.logger.Warn("无法解析聚合成交报文", zap.Error(err))
			continue
		}
		if ev.EventType != "aggTrade" {
			continue
		}
		price, err := strconv.ParseFloat(ev.Price, 64)
		if err != nil {
			e.logger.Warn("无法解析成交价格", zap.String("price", ev.Price))
			continue
		}

		tick := models.Tick{
			Price:        price,
			IsBuyerMaker: ev.IsBuyerMaker,
			Timestamp:    ev.TradeTime,
		}
		select {
		case out <- tick:
		case <-ctx.Done():
			return nil
		}
	}
}

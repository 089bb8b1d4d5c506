package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	fillReadTimeout   = 30 * time.Second
	fillEventBacklog  = 64
	maxReconnectDelay = 30 * time.Second
)

// FillStream 订阅成交/订单回报推送流，在边界处一次性解码为 FillEvent，
// 下游不再接触原始帧。断线后指数退避重连，订阅在重连后自动恢复。
type FillStream struct {
	url    string
	dialer *websocket.Dialer
	log    *zap.Logger
	events chan FillEvent
}

func NewFillStream(url string, log *zap.Logger) *FillStream {
	return &FillStream{
		url:    url,
		dialer: websocket.DefaultDialer,
		log:    log,
		events: make(chan FillEvent, fillEventBacklog),
	}
}

// Events 返回解码后的回报通道。流退出后通道关闭。
func (s *FillStream) Events() <-chan FillEvent {
	return s.events
}

// Run 维持连接直到 ctx 取消。读错误触发重连，不向上传播。
func (s *FillStream) Run(ctx context.Context) error {
	defer close(s.events)

	bo := backoff.NewExponentialBackOff()
	bo.MaxInterval = maxReconnectDelay
	bo.MaxElapsedTime = 0 // 永不放弃，由 ctx 决定生命周期

	for {
		err := s.consume(ctx, bo)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		wait := bo.NextBackOff()
		s.log.Warn("fill stream disconnected",
			zap.Error(err),
			zap.Duration("reconnect_in", wait))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

func (s *FillStream) consume(ctx context.Context, bo *backoff.ExponentialBackOff) error {
	conn, _, err := s.dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", s.url, err)
	}
	defer conn.Close()
	bo.Reset()
	s.log.Info("fill stream connected", zap.String("url", s.url))

	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	for {
		_ = conn.SetReadDeadline(time.Now().Add(fillReadTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		ev, err := decodeFillEvent(msg)
		if err != nil {
			// 坏帧丢弃，不中断流
			s.log.Warn("drop malformed fill frame", zap.Error(err))
			continue
		}
		select {
		case s.events <- ev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// fillFrame 是推送帧的线格式，数值按交易所惯例为字符串。
type fillFrame struct {
	OrderID string `json:"orderId"`
	Side    string `json:"side"`
	Price   string `json:"price"`
	Filled  string `json:"filledQty"`
	Status  string `json:"status"`
	TsMS    int64  `json:"ts"`
}

func decodeFillEvent(raw []byte) (FillEvent, error) {
	var f fillFrame
	if err := json.Unmarshal(raw, &f); err != nil {
		return FillEvent{}, fmt.Errorf("unmarshal fill frame: %w", err)
	}
	if f.OrderID == "" || f.Side == "" || f.Status == "" {
		return FillEvent{}, fmt.Errorf("fill frame missing orderId/side/status: %s", raw)
	}
	price, err := strconv.ParseFloat(f.Price, 64)
	if err != nil {
		return FillEvent{}, fmt.Errorf("parse price %q: %w", f.Price, err)
	}
	filled, err := strconv.ParseFloat(f.Filled, 64)
	if err != nil {
		return FillEvent{}, fmt.Errorf("parse filledQty %q: %w", f.Filled, err)
	}
	return FillEvent{
		OrderID:        f.OrderID,
		Side:           f.Side,
		Price:          price,
		FilledQuantity: filled,
		Status:         f.Status,
		EventTimeMS:    f.TsMS,
	}, nil
}

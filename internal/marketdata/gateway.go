// Package marketdata feeds bars into the trading engine, either streamed
// from a vendor websocket or replayed from a recorded history.
package marketdata

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dafu-zhu/trading-system-sub000/internal/domain"
	"github.com/dafu-zhu/trading-system-sub000/internal/infra"
	"github.com/dafu-zhu/trading-system-sub000/pkg/quant"
)

// Gateway delivers bars to a handler. Implementations decide pacing: the
// websocket gateway delivers at market speed, the history source as fast as
// the consumer drains.
type Gateway interface {
	Start(ctx context.Context) error
	Stop()
}

// barMessage is the vendor wire format. Prices arrive as decimal strings and
// are parsed fixed-point; no float64 touches the hotpath.
type barMessage struct {
	Type   string `json:"type"`
	Symbol string `json:"symbol"`
	TsMs   string `json:"ts"`
	Open   string `json:"open"`
	High   string `json:"high"`
	Low    string `json:"low"`
	Close  string `json:"close"`
	Volume string `json:"volume"`
	VWAP   string `json:"vwap"`
	Trades int64  `json:"trades"`
}

type subscribeMessage struct {
	Op      string   `json:"op"`
	Channel string   `json:"channel"`
	Symbols []string `json:"symbols"`
}

// WSGateway streams bars over a websocket, reconnecting with backoff through
// the shared worker.
type WSGateway struct {
	url     string
	symbols []string
	onBar   func(domain.Bar)
	worker  *infra.StreamWorker
}

// NewWSGateway creates a streaming gateway. onBar is called on the read
// goroutine; the handler must hand off quickly.
func NewWSGateway(url string, symbols []string, onBar func(domain.Bar)) *WSGateway {
	g := &WSGateway{
		url:     url,
		symbols: symbols,
		onBar:   onBar,
	}
	g.worker = infra.NewStreamWorker(g)
	return g
}

// Start launches the connection loop.
func (g *WSGateway) Start(ctx context.Context) error {
	g.worker.Start(ctx)
	return nil
}

// Stop terminates the connection loop.
func (g *WSGateway) Stop() {
	g.worker.Stop()
}

// GetURL implements infra.StreamHandler.
func (g *WSGateway) GetURL() string { return g.url }

// ID implements infra.StreamHandler.
func (g *WSGateway) ID() string { return "bars" }

// OnConnect subscribes to the bar channel for every configured symbol.
func (g *WSGateway) OnConnect(ctx context.Context, conn *websocket.Conn) error {
	sub := subscribeMessage{Op: "subscribe", Channel: "bars", Symbols: g.symbols}
	payload, err := json.Marshal(sub)
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, payload)
}

// OnMessage parses one bar frame and forwards it.
func (g *WSGateway) OnMessage(ctx context.Context, msg []byte) {
	var m barMessage
	if err := json.Unmarshal(msg, &m); err != nil {
		slog.Warn("Malformed bar frame dropped", "err", err)
		return
	}
	if m.Type != "bar" || m.Symbol == "" {
		return
	}

	ts, err := quant.ParseTimeStamp(m.TsMs)
	if err != nil {
		slog.Warn("Bar frame with bad timestamp dropped", "symbol", m.Symbol, "ts", m.TsMs)
		return
	}

	g.onBar(domain.Bar{
		Symbol:      m.Symbol,
		TsUnixM:     ts,
		OpenMicros:  quant.ToPriceMicrosStr(m.Open),
		HighMicros:  quant.ToPriceMicrosStr(m.High),
		LowMicros:   quant.ToPriceMicrosStr(m.Low),
		CloseMicros: quant.ToPriceMicrosStr(m.Close),
		VolumeSats:  quant.ToQtySatsStr(m.Volume),
		VWAPMicros:  quant.ToPriceMicrosStr(m.VWAP),
		TradeCount:  m.Trades,
	})
}

// OnPing keeps the vendor connection alive.
func (g *WSGateway) OnPing(ctx context.Context, conn *websocket.Conn) error {
	return conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
}

// HistorySource replays a fixed set of bars in timestamp order. Bars sharing
// a timestamp keep their input order.
type HistorySource struct {
	bars  []domain.Bar
	onBar func(domain.Bar)
}

// NewHistorySource copies and time-sorts the given bars.
func NewHistorySource(bars []domain.Bar, onBar func(domain.Bar)) *HistorySource {
	sorted := make([]domain.Bar, len(bars))
	copy(sorted, bars)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].TsUnixM < sorted[j].TsUnixM
	})
	return &HistorySource{bars: sorted, onBar: onBar}
}

// Start delivers every bar synchronously, stopping early on context cancel.
func (s *HistorySource) Start(ctx context.Context) error {
	for _, bar := range s.bars {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		s.onBar(bar)
	}
	return nil
}

// Stop is a no-op; Start is synchronous.
func (s *HistorySource) Stop() {}

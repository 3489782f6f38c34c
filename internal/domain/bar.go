package domain

import (
	"github.com/dafu-zhu/trading-system-sub000/pkg/quant"
)

// Bar is an OHLCV aggregate over a fixed period, as delivered by the venue
// gateway. VWAPMicros is 0 when the venue does not provide it.
type Bar struct {
	Symbol      string            `json:"symbol"`
	TsUnixM     quant.TimeStamp   `json:"ts"`
	OpenMicros  quant.PriceMicros `json:"open"`
	HighMicros  quant.PriceMicros `json:"high"`
	LowMicros   quant.PriceMicros `json:"low"`
	CloseMicros quant.PriceMicros `json:"close"`
	VolumeSats  quant.QtySats     `json:"volume"`
	VWAPMicros  quant.PriceMicros `json:"vwap,omitempty"`
	TradeCount  int64             `json:"trade_count,omitempty"`
}

// MarketState holds the current state of a single market.
// Hot fields (price/qty) first for cache-line efficiency.
type MarketState struct {
	PriceMicros     quant.PriceMicros `json:"price,string"`
	TotalQtySats    quant.QtySats     `json:"qty,string"`
	LastUpdateUnixM quant.TimeStamp   `json:"last_update,string"`
	Symbol          string            `json:"symbol"`
}

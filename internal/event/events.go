package event

import (
	"github.com/dafu-zhu/trading-system-sub000/internal/domain"
	"github.com/dafu-zhu/trading-system-sub000/pkg/quant"
)

// Type defines the type of event.
type Type uint16

const (
	EvBar Type = iota + 1
	EvOrderAudit
	EvSystemHalt
)

// Audit event types recorded on the order lifecycle.
const (
	AuditSubmitted = "SUBMITTED"
	AuditAcked     = "ACKED"
	AuditFilled    = "FILLED"
	AuditPartial   = "PARTIALLY_FILLED"
	AuditCanceled  = "CANCELED"
	AuditRejected  = "REJECTED"
	AuditEscalated = "ESCALATED"
)

// Event is the interface for all sequencer events.
type Event interface {
	GetSeq() uint64
	GetTs() quant.TimeStamp
	GetType() Type
}

// BaseEvent contains common fields for all events.
type BaseEvent struct {
	Seq uint64          `json:"seq"`
	Ts  quant.TimeStamp `json:"ts"`
}

func (e BaseEvent) GetSeq() uint64         { return e.Seq }
func (e BaseEvent) GetTs() quant.TimeStamp { return e.Ts }

// BarEvent carries one market bar into the sequencer. This is the hotpath
// event; acquire from the pool when feeding at replay speed.
type BarEvent struct {
	BaseEvent
	Bar domain.Bar `json:"bar"`
}

func (e BarEvent) GetType() Type { return EvBar }

// OrderAuditEvent is one append-only audit record of the order lifecycle.
// Every submission, fill, rejection, and escalation produces exactly one.
type OrderAuditEvent struct {
	BaseEvent
	EventType     string            `json:"event_type"`
	OrderID       uint64            `json:"order_id"`
	Symbol        string            `json:"symbol"`
	Side          string            `json:"side"`
	OrderType     string            `json:"order_type"`
	QtySats       quant.QtySats     `json:"quantity"`
	PriceMicros   quant.PriceMicros `json:"price"`
	Status        string            `json:"status"`
	FilledSats    quant.QtySats     `json:"filled_qty"`
	AvgFillMicros quant.PriceMicros `json:"avg_fill_price"`
	Message       string            `json:"message,omitempty"`
}

func (e OrderAuditEvent) GetType() Type { return EvOrderAudit }

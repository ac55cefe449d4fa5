// Package database persists orders, flow-control rules and counters, and
// trigger audit rows. Hot-path writes go through the async executor;
// reads happen only at startup and in sweeps.
package database

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderRow is the durable form of one order record.
type OrderRow struct {
	OrderID     uint64 `gorm:"primaryKey;autoIncrement:false"`
	ExchOrderID uint64 `gorm:"index"`

	AcctID    uint32 `gorm:"index"`
	ProductID uint32
	UserID    uint32
	StgID     uint32
	StgInstID uint32
	AlgoID    uint32

	MarketCode     uint16 `gorm:"index:idx_market_exch_order_id"`
	SymbolType     uint8
	SymbolCode     string `gorm:"type:varchar(64)"`
	Side           uint8
	PosSide        uint8
	ParValue       uint32
	OrderType      uint8
	OrderTypeExtra uint8

	OrderPrice decimal.Decimal `gorm:"type:decimal(38,18)"`
	OrderSize  decimal.Decimal `gorm:"type:decimal(38,18)"`
	OrderTime  int64

	Status       uint8 `gorm:"index"`
	DealSize     decimal.Decimal `gorm:"type:decimal(38,18)"`
	AvgDealPrice decimal.Decimal `gorm:"type:decimal(38,18)"`

	LastTradeID   string `gorm:"type:varchar(64)"`
	LastDealPrice decimal.Decimal `gorm:"type:decimal(38,18)"`
	LastDealSize  decimal.Decimal `gorm:"type:decimal(38,18)"`
	LastDealTime  int64

	Fee         decimal.Decimal `gorm:"type:decimal(38,18)"`
	FeeCurrency string          `gorm:"type:varchar(16)"`
	StatusCode  int
	SeqNum      uint64

	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

func (OrderRow) TableName() string { return "orders" }

// FlowCtrlRuleRow is one persisted rule definition. Enum columns hold the
// symbolic names; they are parsed at compile time.
type FlowCtrlRuleRow struct {
	No         uint32 `gorm:"primaryKey;autoIncrement:false"`
	Name       string `gorm:"type:varchar(128);not null"`
	Step       string `gorm:"type:varchar(32);not null"`
	Target     string `gorm:"type:varchar(64);not null;index"`
	Condition  string `gorm:"type:varchar(512)"`
	LimitValue string `gorm:"type:varchar(64);not null"`
	Action     string `gorm:"type:varchar(128);not null"`
	Enabled    bool   `gorm:"not null;default:true"`
}

func (FlowCtrlRuleRow) TableName() string { return "flow_ctrl_rule" }

// FlowCtrlCounterRow caches one per-condition-value counter between runs.
// Payload carries the LimitValue wire form: "total;" for scalars,
// "intervalMs;ts,ts,..." for windows.
type FlowCtrlCounterRow struct {
	RuleNo         uint32 `gorm:"primaryKey;autoIncrement:false"`
	ConditionValue string `gorm:"primaryKey;type:varchar(512)"`
	Payload        string `gorm:"type:text;not null"`

	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

func (FlowCtrlCounterRow) TableName() string { return "flow_ctrl_counter" }

// FlowCtrlTriggerRow is one audit row recorded when a rule rejects or
// flags an order.
type FlowCtrlTriggerRow struct {
	ID             uint64 `gorm:"primaryKey"`
	No             uint32 `gorm:"index"`
	Name           string `gorm:"type:varchar(128)"`
	Step           string `gorm:"type:varchar(32)"`
	Target         string `gorm:"type:varchar(64)"`
	Condition      string `gorm:"type:varchar(512)"`
	ConditionValue string `gorm:"type:varchar(512)"`
	LimitType      string `gorm:"type:varchar(32)"`
	Action         string `gorm:"type:varchar(128)"`
	Details        string `gorm:"type:text"`
	Timestamp      int64  `gorm:"index"`
}

func (FlowCtrlTriggerRow) TableName() string { return "flow_ctrl_trigger" }

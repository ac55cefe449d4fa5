package database

import (
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/quantfabric/tradesrv/internal/flowctrl"
	"github.com/quantfabric/tradesrv/internal/order"
)

// Repository maps the domain types onto their durable rows. Startup reads
// run synchronously against the gorm handle; everything on the order hot
// path is handed to the async executor.
type Repository struct {
	db   *gorm.DB
	exec *AsyncExecutor
}

func NewRepository(db *gorm.DB, exec *AsyncExecutor) *Repository {
	return &Repository{db: db, exec: exec}
}

// Migrate creates or upgrades the tables this subsystem owns.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&OrderRow{},
		&FlowCtrlRuleRow{},
		&FlowCtrlCounterRow{},
		&FlowCtrlTriggerRow{},
	)
}

// UpsertOrder queues a write-back of the order's current state. Callers
// invoke it only when reconciliation reported a material change.
func (r *Repository) UpsertOrder(o *order.Order) int {
	row := orderToRow(o)
	return r.exec.AsyncExec(func(db *gorm.DB) error {
		return db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "order_id"}},
			UpdateAll: true,
		}).Create(&row).Error
	})
}

// LoadOpenOrders returns every not-yet-closed order for ledger warm-up.
func (r *Repository) LoadOpenOrders() ([]*order.Order, error) {
	var rows []OrderRow
	if err := r.db.Where("status < ?", uint8(order.StatusFilled)).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("load open orders: %w", err)
	}
	out := make([]*order.Order, 0, len(rows))
	for i := range rows {
		out = append(out, rowToOrder(&rows[i]))
	}
	return out, nil
}

// LoadRuleDefs returns the enabled flow-control rule definitions.
func (r *Repository) LoadRuleDefs() ([]flowctrl.RuleDef, error) {
	var rows []FlowCtrlRuleRow
	if err := r.db.Where("enabled = ?", true).Order("no").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("load flow ctrl rules: %w", err)
	}
	defs := make([]flowctrl.RuleDef, 0, len(rows))
	for _, row := range rows {
		defs = append(defs, flowctrl.RuleDef{
			No:         row.No,
			Name:       row.Name,
			Step:       row.Step,
			Target:     row.Target,
			Condition:  row.Condition,
			LimitValue: row.LimitValue,
			Action:     row.Action,
		})
	}
	return defs, nil
}

// LoadCounters returns every cached counter row.
func (r *Repository) LoadCounters() ([]flowctrl.CounterRec, error) {
	var rows []FlowCtrlCounterRow
	if err := r.db.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("load flow ctrl counters: %w", err)
	}
	recs := make([]flowctrl.CounterRec, 0, len(rows))
	for _, row := range rows {
		recs = append(recs, flowctrl.CounterRec{
			RuleNo:         row.RuleNo,
			ConditionValue: row.ConditionValue,
			Payload:        row.Payload,
		})
	}
	return recs, nil
}

// SaveCounters queues a replace of the given counter rows, typically the
// dirty set drained by a store's Save.
func (r *Repository) SaveCounters(recs []flowctrl.CounterRec) int {
	if len(recs) == 0 {
		return 0
	}
	rows := make([]FlowCtrlCounterRow, 0, len(recs))
	for _, rec := range recs {
		rows = append(rows, FlowCtrlCounterRow{
			RuleNo:         rec.RuleNo,
			ConditionValue: rec.ConditionValue,
			Payload:        rec.Payload,
		})
	}
	return r.exec.AsyncExec(func(db *gorm.DB) error {
		return db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "rule_no"}, {Name: "condition_value"}},
			UpdateAll: true,
		}).Create(&rows).Error
	})
}

// RecordTrigger queues one audit row. Repository satisfies
// flowctrl.Recorder.
func (r *Repository) RecordTrigger(info *flowctrl.TriggerInfo) {
	actions := ""
	for i, a := range info.Actions {
		if i > 0 {
			actions += "&"
		}
		actions += a.String()
	}
	row := FlowCtrlTriggerRow{
		No:             info.No,
		Name:           info.Name,
		Step:           info.Step.String(),
		Target:         info.Target.String(),
		Condition:      info.Condition,
		ConditionValue: info.ConditionValue,
		LimitType:      info.LimitType.String(),
		Action:         actions,
		Details:        info.Details,
		Timestamp:      info.Timestamp,
	}
	r.exec.AsyncExec(func(db *gorm.DB) error {
		return db.Create(&row).Error
	})
}

func orderToRow(o *order.Order) OrderRow {
	return OrderRow{
		OrderID:        o.OrderID,
		ExchOrderID:    o.ExchOrderID,
		AcctID:         o.AcctID,
		ProductID:      o.ProductID,
		UserID:         o.UserID,
		StgID:          o.StgID,
		StgInstID:      o.StgInstID,
		AlgoID:         o.AlgoID,
		MarketCode:     uint16(o.MarketCode),
		SymbolType:     uint8(o.SymbolType),
		SymbolCode:     o.SymbolCode,
		Side:           uint8(o.Side),
		PosSide:        uint8(o.PosSide),
		ParValue:       o.ParValue,
		OrderType:      uint8(o.OrderType),
		OrderTypeExtra: uint8(o.OrderTypeExtra),
		OrderPrice:     o.OrderPrice,
		OrderSize:      o.OrderSize,
		OrderTime:      o.OrderTime,
		Status:         uint8(o.Status),
		DealSize:       o.DealSize,
		AvgDealPrice:   o.AvgDealPrice,
		LastTradeID:    o.LastTradeID,
		LastDealPrice:  o.LastDealPrice,
		LastDealSize:   o.LastDealSize,
		LastDealTime:   o.LastDealTime,
		Fee:            o.Fee,
		FeeCurrency:    o.FeeCurrency,
		StatusCode:     o.StatusCode,
		SeqNum:         o.SeqNum,
	}
}

func rowToOrder(row *OrderRow) *order.Order {
	return &order.Order{
		OrderID:        row.OrderID,
		ExchOrderID:    row.ExchOrderID,
		AcctID:         row.AcctID,
		ProductID:      row.ProductID,
		UserID:         row.UserID,
		StgID:          row.StgID,
		StgInstID:      row.StgInstID,
		AlgoID:         row.AlgoID,
		MarketCode:     order.MarketCode(row.MarketCode),
		SymbolType:     order.SymbolType(row.SymbolType),
		SymbolCode:     row.SymbolCode,
		Side:           order.Side(row.Side),
		PosSide:        order.PosSide(row.PosSide),
		ParValue:       row.ParValue,
		OrderType:      order.OrderType(row.OrderType),
		OrderTypeExtra: order.OrderTypeExtra(row.OrderTypeExtra),
		OrderPrice:     row.OrderPrice,
		OrderSize:      row.OrderSize,
		OrderTime:      row.OrderTime,
		Status:         order.Status(row.Status),
		DealSize:       row.DealSize,
		AvgDealPrice:   row.AvgDealPrice,
		LastTradeID:    row.LastTradeID,
		LastDealPrice:  row.LastDealPrice,
		LastDealSize:   row.LastDealSize,
		LastDealTime:   row.LastDealTime,
		Fee:            row.Fee,
		FeeCurrency:    row.FeeCurrency,
		StatusCode:     row.StatusCode,
		SeqNum:         row.SeqNum,
	}
}

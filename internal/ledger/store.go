package ledger

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"
	"gorm.io/gorm"

	"github.com/BenLeung-moon/tiger-trader/internal/schema"
)

// TradeRow is one persisted trade-history record.
type TradeRow struct {
	ID        uint      `gorm:"primaryKey"`
	Timestamp time.Time `gorm:"index"`
	Symbol    string    `gorm:"index"`
	Market    string
	Action    string
	Quantity  int64
	Price     decimal.Decimal `gorm:"type:numeric"`
	OrderID   string          `gorm:"index"`
	Status    string
	Reason    string
}

func (TradeRow) TableName() string { return "trades" }

// EquityRow is a periodic account-value sample for the dashboard's PnL
// history.
type EquityRow struct {
	ID                 uint      `gorm:"primaryKey"`
	Timestamp          time.Time `gorm:"index"`
	Currency           string
	CashBalance        decimal.Decimal `gorm:"type:numeric"`
	NetLiquidation     decimal.Decimal `gorm:"type:numeric"`
	GrossPositionValue decimal.Decimal `gorm:"type:numeric"`
}

func (EquityRow) TableName() string { return "portfolio_snapshots" }

// Store persists trade history and equity samples to PostgreSQL.
type Store struct {
	db *gorm.DB
}

// NewStore migrates the schema and returns a store.
func NewStore(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&TradeRow{}, &EquityRow{}); err != nil {
		return nil, errors.Wrap(err, "migrate ledger tables")
	}
	return &Store{db: db}, nil
}

// AppendTrade inserts one trade-history record.
func (s *Store) AppendTrade(record schema.TradeRecord) error {
	row := TradeRow{
		Timestamp: record.Timestamp,
		Symbol:    record.Symbol,
		Market:    string(record.Market),
		Action:    string(record.Action),
		Quantity:  record.Quantity,
		Price:     record.Price,
		OrderID:   record.OrderID,
		Status:    string(record.Status),
		Reason:    record.Reason,
	}
	return errors.Wrap(s.db.Create(&row).Error, "insert trade")
}

// SaveEquity samples the reconciled account totals, one row per currency.
func (s *Store) SaveEquity(accounts map[string]schema.AccountSnapshot) error {
	now := time.Now().UTC()
	for _, acct := range accounts {
		row := EquityRow{
			Timestamp:          now,
			Currency:           acct.Currency,
			CashBalance:        acct.CashBalance,
			NetLiquidation:     acct.NetLiquidation,
			GrossPositionValue: acct.GrossPositionValue,
		}
		if err := s.db.Create(&row).Error; err != nil {
			return errors.Wrap(err, "insert equity snapshot")
		}
	}
	return nil
}

// RecentTrades returns the latest records, newest first.
func (s *Store) RecentTrades(limit int) ([]schema.TradeRecord, error) {
	var rows []TradeRow
	if err := s.db.Order("timestamp desc").Limit(limit).Find(&rows).Error; err != nil {
		return nil, errors.Wrap(err, "query trades")
	}
	out := make([]schema.TradeRecord, 0, len(rows))
	for _, row := range rows {
		out = append(out, schema.TradeRecord{
			Timestamp: row.Timestamp,
			Symbol:    row.Symbol,
			Market:    schema.Market(row.Market),
			Action:    schema.OrderSide(row.Action),
			Quantity:  row.Quantity,
			Price:     row.Price,
			OrderID:   row.OrderID,
			Status:    schema.OrderStatus(row.Status),
			Reason:    row.Reason,
		})
	}
	return out, nil
}

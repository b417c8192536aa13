package store

import (
	"gorm.io/datatypes"
)

type TradeStatus int

const (
	TradeStatusOpen   TradeStatus = 1
	TradeStatusClosed TradeStatus = 2
)

// TradeModel is one round trip: created on a buy fill, closed in place by the
// matching sell fill.
type TradeModel struct {
	ID         int64          `gorm:"column:id;primaryKey"`
	Code       string         `gorm:"column:code;index"`
	Name       string         `gorm:"column:name"`
	Quantity   int64          `gorm:"column:quantity"`
	BuyPrice   float64        `gorm:"column:buy_price"`
	SellPrice  float64        `gorm:"column:sell_price"`
	PnL        float64        `gorm:"column:pnl"`
	ProfitRate float64        `gorm:"column:profit_rate"`
	Status     TradeStatus    `gorm:"column:status;index"`
	Metadata   datatypes.JSON `gorm:"column:metadata"`
	BoughtAt   int64          `gorm:"column:bought_at"`
	SoldAt     int64          `gorm:"column:sold_at"`
}

func (TradeModel) TableName() string {
	return "trades"
}

package store

import (
	"errors"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// Domain errors returned by store operations.
var (
	ErrAccountNotFound   = errors.New("account not found")
	ErrContractNotFound  = errors.New("contract not found")
	ErrOrderNotFound     = errors.New("order not found")
	ErrDuplicateAccount  = errors.New("account already exists")
	ErrDuplicateContract = errors.New("contract already exists")
	ErrInvalidPassword   = errors.New("invalid password")
)

// Account is a simulated brokerage account. Balances are mutated by fills
// and read back for account-update bursts and summaries.
type Account struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	AccountID      string    `gorm:"uniqueIndex;not null;size:32" json:"account_id"`
	PasswordHash   string    `gorm:"not null" json:"-"`
	NetLiquidation float64   `gorm:"default:1000000" json:"net_liquidation"`
	TotalCash      float64   `gorm:"default:1000000" json:"total_cash"`
	BuyingPower    float64   `gorm:"default:4000000" json:"buying_power"`
	UnrealizedPNL  float64   `json:"unrealized_pnl"`
	RealizedPNL    float64   `json:"realized_pnl"`
	Currency       string    `gorm:"default:USD;size:8" json:"currency"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Account) TableName() string {
	return "accounts"
}

// SetPassword hashes and stores the account password.
func (a *Account) SetPassword(password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	a.PasswordHash = string(hash)
	return nil
}

// CheckPassword verifies a plaintext password against the stored hash.
func (a *Account) CheckPassword(password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(a.PasswordHash), []byte(password)) == nil
}

// Contract is a tradable instrument definition. ConID is the wire-visible
// contract identifier, seeded from 1000 upward.
type Contract struct {
	ID              uint    `gorm:"primaryKey" json:"id"`
	ConID           int64   `gorm:"uniqueIndex;not null" json:"con_id"`
	Symbol          string  `gorm:"index;not null;size:32" json:"symbol"`
	SecType         string  `gorm:"not null;size:8" json:"sec_type"`
	Exchange        string  `gorm:"size:32" json:"exchange"`
	PrimaryExchange string  `gorm:"size:32" json:"primary_exchange"`
	Currency        string  `gorm:"size:8" json:"currency"`
	LocalSymbol     string  `gorm:"size:32" json:"local_symbol"`
	TradingClass    string  `gorm:"size:32" json:"trading_class"`
	Multiplier      int64   `json:"multiplier"`
	MinTick         float64 `gorm:"default:0.01" json:"min_tick"`
	LongName        string  `gorm:"size:128" json:"long_name"`
	Industry        string  `gorm:"size:64" json:"industry"`
	Category        string  `gorm:"size:64" json:"category"`
	TimeZone        string  `gorm:"size:32" json:"time_zone"`
	TradingHours    string  `gorm:"size:128" json:"trading_hours"`
	LiquidHours     string  `gorm:"size:128" json:"liquid_hours"`
}

func (Contract) TableName() string {
	return "contracts"
}

// OptionContract is one strike/expiry of an option chain, keyed back to the
// underlying contract.
type OptionContract struct {
	ID           uint    `gorm:"primaryKey" json:"id"`
	ConID        int64   `gorm:"uniqueIndex;not null" json:"con_id"`
	UnderConID   int64   `gorm:"index;not null" json:"under_con_id"`
	Symbol       string  `gorm:"index;size:32" json:"symbol"`
	Expiry       string  `gorm:"size:8" json:"expiry"`
	Strike       float64 `json:"strike"`
	Right        string  `gorm:"size:1" json:"right"`
	Exchange     string  `gorm:"size:32" json:"exchange"`
	TradingClass string  `gorm:"size:32" json:"trading_class"`
	Multiplier   int64   `gorm:"default:100" json:"multiplier"`
}

func (OptionContract) TableName() string {
	return "option_contracts"
}

// Position is a holding of one contract in one account.
type Position struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	AccountID string    `gorm:"index:idx_positions_acct_con,unique;not null;size:32" json:"account_id"`
	ConID     int64     `gorm:"index:idx_positions_acct_con,unique;not null" json:"con_id"`
	Symbol    string    `gorm:"size:32" json:"symbol"`
	SecType   string    `gorm:"size:8" json:"sec_type"`
	Currency  string    `gorm:"size:8" json:"currency"`
	Position  float64   `json:"position"`
	AvgCost   float64   `json:"avg_cost"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Position) TableName() string {
	return "positions"
}

// Order status values as written to ORDER_STATUS frames.
const (
	OrderStatusPendingSubmit = "PendingSubmit"
	OrderStatusSubmitted     = "Submitted"
	OrderStatusFilled        = "Filled"
	OrderStatusPendingCancel = "PendingCancel"
	OrderStatusCancelled     = "Cancelled"
)

// Order is one client order with its lifecycle state.
type Order struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	OrderID      int64     `gorm:"uniqueIndex;not null" json:"order_id"`
	PermID       int64     `gorm:"index" json:"perm_id"`
	ClientID     int64     `gorm:"index" json:"client_id"`
	AccountID    string    `gorm:"index;size:32" json:"account_id"`
	ConID        int64     `json:"con_id"`
	Symbol       string    `gorm:"size:32" json:"symbol"`
	SecType      string    `gorm:"size:8" json:"sec_type"`
	Exchange     string    `gorm:"size:32" json:"exchange"`
	Currency     string    `gorm:"size:8" json:"currency"`
	Action       string    `gorm:"size:8" json:"action"`
	Quantity     float64   `json:"quantity"`
	OrderType    string    `gorm:"size:8" json:"order_type"`
	LimitPrice   float64   `json:"limit_price"`
	AuxPrice     float64   `json:"aux_price"`
	TIF          string    `gorm:"size:8" json:"tif"`
	Status       string    `gorm:"index;size:16" json:"status"`
	Filled       float64   `json:"filled"`
	Remaining    float64   `json:"remaining"`
	AvgFillPrice float64   `json:"avg_fill_price"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Order) TableName() string {
	return "orders"
}

// IsOpen reports whether the order still counts as working.
func (o *Order) IsOpen() bool {
	switch o.Status {
	case OrderStatusPendingSubmit, OrderStatusSubmitted, OrderStatusPendingCancel:
		return true
	}
	return false
}

// Execution is one recorded fill.
type Execution struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	ExecID    string    `gorm:"uniqueIndex;not null;size:64" json:"exec_id"`
	OrderID   int64     `gorm:"index" json:"order_id"`
	PermID    int64     `json:"perm_id"`
	ClientID  int64     `json:"client_id"`
	AccountID string    `gorm:"index;size:32" json:"account_id"`
	ConID     int64     `json:"con_id"`
	Symbol    string    `gorm:"index;size:32" json:"symbol"`
	SecType   string    `gorm:"size:8" json:"sec_type"`
	Exchange  string    `gorm:"size:32" json:"exchange"`
	Side      string    `gorm:"size:4" json:"side"` // BOT, SLD
	Shares    float64   `json:"shares"`
	Price     float64   `json:"price"`
	Time      time.Time `gorm:"index" json:"time"`
}

func (Execution) TableName() string {
	return "executions"
}

// MarketData is the latest quote snapshot for one contract.
type MarketData struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	ConID     int64     `gorm:"uniqueIndex;not null" json:"con_id"`
	Symbol    string    `gorm:"index;size:32" json:"symbol"`
	Bid       float64   `json:"bid"`
	Ask       float64   `json:"ask"`
	Last      float64   `json:"last"`
	BidSize   int64     `json:"bid_size"`
	AskSize   int64     `json:"ask_size"`
	Volume    int64     `json:"volume"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (MarketData) TableName() string {
	return "market_data"
}

// HistoricalBar is one stored OHLCV bar for a contract.
type HistoricalBar struct {
	ID       uint    `gorm:"primaryKey" json:"id"`
	ConID    int64   `gorm:"index:idx_bars_con_date,unique;not null" json:"con_id"`
	Date     string  `gorm:"index:idx_bars_con_date,unique;size:17" json:"date"`
	Open     float64 `json:"open"`
	High     float64 `json:"high"`
	Low      float64 `json:"low"`
	Close    float64 `json:"close"`
	Volume   int64   `json:"volume"`
	WAP      float64 `json:"wap"`
	BarCount int64   `json:"bar_count"`
}

func (HistoricalBar) TableName() string {
	return "historical_data"
}

// AllModels returns every model for AutoMigrate.
func AllModels() []any {
	return []any{
		&Account{},
		&Contract{},
		&OptionContract{},
		&Position{},
		&Order{},
		&Execution{},
		&MarketData{},
		&HistoricalBar{},
	}
}

package twsapi

// Contract identifies a tradable instrument as carried on the wire. The
// field set is shared by market-data, order, and contract-details requests.
type Contract struct {
	ConID           int64
	Symbol          string
	SecType         string // STK, OPT, FUT, CASH, BOND
	Expiry          string
	Strike          float64
	Right           string // C, P or empty
	Multiplier      int64
	Exchange        string
	PrimaryExchange string
	Currency        string
	LocalSymbol     string
	TradingClass    string
}

// Order carries the order attributes parsed from PLACE_ORDER.
type Order struct {
	Action        string // BUY, SELL
	TotalQuantity float64
	OrderType     string // MKT, LMT, STP, ...
	LimitPrice    float64
	AuxPrice      float64
	TIF           string
	OCAGroup      string
	Account       string
	OpenClose     string
	Origin        int64
	OrderRef      string
	Transmit      bool
	ParentID      int64
}

// ExecutionFilter narrows a REQ_EXECUTIONS query.
type ExecutionFilter struct {
	ClientID    int64
	AccountCode string
	Time        string
	Symbol      string
	SecType     string
	Exchange    string
	Side        string
}

// Ticks is one market-data update. Nil pointers mean the field is not part
// of this update and must not be emitted.
type Ticks struct {
	Bid     *float64
	Ask     *float64
	Last    *float64
	BidSize *int64
	AskSize *int64
	Volume  *int64
}

// ContractDetails is the response record for CONTRACT_DATA frames.
type ContractDetails struct {
	Contract         Contract
	MinTick          float64
	MdSizeMultiplier int64
	OrderTypes       string
	ValidExchanges   string
	PriceMagnifier   int64
	UnderConID       int64
	LongName         string
	ContractMonth    string
	Industry         string
	Category         string
	Subcategory      string
	TimeZone         string
	TradingHours     string
	LiquidHours      string
	EvRule           string
	EvMultiplier     float64
}

// Bar is one historical data bar.
type Bar struct {
	Date     string
	Open     float64
	High     float64
	Low      float64
	Close    float64
	Volume   int64
	WAP      float64
	BarCount int64
}

// Request is the tagged union of parsed inbound messages. The session
// engine dispatches by an exhaustive type switch over these variants.
type Request interface {
	isRequest()
}

// StartAPIRequest begins the API conversation after the handshake.
// ClientID is UnsetInt when the client omitted the field; the session then
// keeps the id the listener assigned at accept.
type StartAPIRequest struct {
	ClientID             int64
	OptionalCapabilities string
}

// MarketDataRequest subscribes to streaming ticks for a contract.
type MarketDataRequest struct {
	ReqID              int64
	Contract           Contract
	GenericTickList    string
	Snapshot           bool
	RegulatorySnapshot bool
	MktDataOptions     string
}

// CancelMarketDataRequest tears down a market-data subscription.
type CancelMarketDataRequest struct {
	ReqID int64
}

// PlaceOrderRequest submits a new order.
type PlaceOrderRequest struct {
	OrderID   int64
	Contract  Contract
	SecIDType string
	SecID     string
	Order     Order
}

// CancelOrderRequest cancels a working order.
type CancelOrderRequest struct {
	OrderID int64
}

// OpenOrdersRequest asks for the client's open orders.
type OpenOrdersRequest struct{}

// AccountDataRequest subscribes to or unsubscribes from account updates.
type AccountDataRequest struct {
	Subscribe   bool
	AccountCode string
}

// PositionsRequest asks for all positions.
type PositionsRequest struct{}

// PositionsMultiRequest asks for positions of one account/model.
type PositionsMultiRequest struct {
	ReqID     int64
	Account   string
	ModelCode string
}

// ContractDataRequest asks for contract details.
type ContractDataRequest struct {
	ReqID          int64
	Contract       Contract
	IncludeExpired bool
}

// SecDefOptParamsRequest asks for an option chain's parameters.
type SecDefOptParamsRequest struct {
	ReqID             int64
	UnderlyingSymbol  string
	FutFopExchange    string
	UnderlyingSecType string
	UnderlyingConID   int64
}

// ExecutionsRequest asks for executions matching a filter.
type ExecutionsRequest struct {
	ReqID  int64
	Filter ExecutionFilter
}

// IDsRequest asks for the next valid order id.
type IDsRequest struct {
	NumIDs int64
}

// ManagedAcctsRequest asks for the managed account list.
type ManagedAcctsRequest struct{}

// CurrentTimeRequest asks for the server clock.
type CurrentTimeRequest struct{}

// HistoricalDataRequest asks for historical bars.
type HistoricalDataRequest struct {
	ReqID          int64
	Contract       Contract
	IncludeExpired bool
	EndDateTime    string
	BarSizeSetting string
	DurationStr    string
	UseRTH         bool
	WhatToShow     string
	FormatDate     int64
}

func (*StartAPIRequest) isRequest()        {}
func (*MarketDataRequest) isRequest()      {}
func (*CancelMarketDataRequest) isRequest() {}
func (*PlaceOrderRequest) isRequest()      {}
func (*CancelOrderRequest) isRequest()     {}
func (*OpenOrdersRequest) isRequest()      {}
func (*AccountDataRequest) isRequest()     {}
func (*PositionsRequest) isRequest()       {}
func (*PositionsMultiRequest) isRequest()  {}
func (*ContractDataRequest) isRequest()    {}
func (*SecDefOptParamsRequest) isRequest() {}
func (*ExecutionsRequest) isRequest()      {}
func (*IDsRequest) isRequest()             {}
func (*ManagedAcctsRequest) isRequest()    {}
func (*CurrentTimeRequest) isRequest()     {}
func (*HistoricalDataRequest) isRequest()  {}

package twsapi

import "time"

// Response builders. Each returns one complete frame ready to write to the
// socket. Bodies are kind followed directly by the payload fields; the
// protocol carries no per-message version numbers.

// ServerHello is the handshake reply. It is the one kindless frame: just
// the server version and the connection timestamp.
func ServerHello(serverVersion int64, now time.Time) []byte {
	w := &Writer{}
	w.Int(serverVersion)
	w.String(now.Format("20060102 15:04:05"))
	return w.Frame()
}

// NextValidID announces the next usable order id.
func NextValidID(orderID int64) []byte {
	w := message(OutNextValidID)
	w.Int(orderID)
	return w.Frame()
}

// ManagedAccounts lists the accounts this session controls, comma-joined.
func ManagedAccounts(accounts string) []byte {
	w := message(OutManagedAccts)
	w.String(accounts)
	return w.Frame()
}

// ErrorMessage builds an ERR_MSG frame. reqID is -1 for connection-level
// errors not tied to a request.
func ErrorMessage(reqID, code int64, text string) []byte {
	w := message(OutErrMsg)
	w.Int(reqID)
	w.Int(code)
	w.String(text)
	return w.Frame()
}

// TickPrice carries one price tick for a market-data subscription.
func TickPrice(reqID, tickType int64, price float64, canAutoExecute, pastLimit bool) []byte {
	w := message(OutTickPrice)
	w.Int(reqID)
	w.Int(tickType)
	w.Float(price)
	w.Bool(canAutoExecute)
	w.Bool(pastLimit)
	return w.Frame()
}

// TickSize carries one size tick.
func TickSize(reqID, tickType, size int64) []byte {
	w := message(OutTickSize)
	w.Int(reqID)
	w.Int(tickType)
	w.Int(size)
	return w.Frame()
}

// TickString carries a string-valued tick such as the last trade timestamp.
func TickString(reqID, tickType int64, value string) []byte {
	w := message(OutTickString)
	w.Int(reqID)
	w.Int(tickType)
	w.String(value)
	return w.Frame()
}

// TickGeneric carries a generic numeric tick.
func TickGeneric(reqID, tickType int64, value float64) []byte {
	w := message(OutTickGeneric)
	w.Int(reqID)
	w.Int(tickType)
	w.Float(value)
	return w.Frame()
}

// MarketDataType tells the client which data regime a subscription serves
// (1 live, 3 delayed).
func MarketDataType(reqID, dataType int64) []byte {
	w := message(OutMarketDataType)
	w.Int(reqID)
	w.Int(dataType)
	return w.Frame()
}

// AccountValue is one key of the account-update stream.
func AccountValue(key, value, currency, account string) []byte {
	w := message(OutAcctValue)
	w.String(key)
	w.String(value)
	w.String(currency)
	w.String(account)
	return w.Frame()
}

// PortfolioValue is one holding of the account-update stream.
func PortfolioValue(c Contract, position, marketPrice, marketValue, avgCost, unrealizedPNL, realizedPNL float64, account string) []byte {
	w := message(OutPortfolioValue)
	w.Int(c.ConID)
	w.String(c.Symbol)
	w.String(c.SecType)
	w.String(c.Expiry)
	w.Float(c.Strike)
	w.String(c.Right)
	w.Int(c.Multiplier)
	w.String(c.PrimaryExchange)
	w.String(c.Currency)
	w.String(c.LocalSymbol)
	w.String(c.TradingClass)
	w.Float(position)
	w.Float(marketPrice)
	w.Float(marketValue)
	w.Float(avgCost)
	w.Float(unrealizedPNL)
	w.Float(realizedPNL)
	w.String(account)
	return w.Frame()
}

// AccountUpdateTime stamps the account-update burst.
func AccountUpdateTime(now time.Time) []byte {
	w := message(OutAcctUpdateTime)
	w.String(now.Format("15:04:05"))
	return w.Frame()
}

// AccountDownloadEnd closes an account-update burst.
func AccountDownloadEnd(account string) []byte {
	w := message(OutAcctDownloadEnd)
	w.String(account)
	return w.Frame()
}

// AccountSummary is one row of a REQ_ACCOUNT_SUMMARY response.
func AccountSummary(reqID int64, account, tag, value, currency string) []byte {
	w := message(OutAccountSummary)
	w.Int(reqID)
	w.String(account)
	w.String(tag)
	w.String(value)
	w.String(currency)
	return w.Frame()
}

// PositionData is one row of a REQ_POSITIONS response.
func PositionData(account string, c Contract, position, avgCost float64) []byte {
	w := message(OutPositionData)
	w.String(account)
	w.Int(c.ConID)
	w.String(c.Symbol)
	w.String(c.SecType)
	w.String(c.Expiry)
	w.Float(c.Strike)
	w.String(c.Right)
	w.Int(c.Multiplier)
	w.String(c.Exchange)
	w.String(c.Currency)
	w.String(c.LocalSymbol)
	w.String(c.TradingClass)
	w.Float(position)
	w.Float(avgCost)
	return w.Frame()
}

// PositionEnd closes a positions response.
func PositionEnd() []byte {
	return message(OutPositionEnd).Frame()
}

// OrderStatus reports an order state transition.
func OrderStatus(orderID int64, status string, filled, remaining, avgFillPrice float64, permID, parentID int64, lastFillPrice float64, clientID int64, whyHeld string, mktCapPrice float64) []byte {
	w := message(OutOrderStatus)
	w.Int(orderID)
	w.String(status)
	w.Float(filled)
	w.Float(remaining)
	w.Float(avgFillPrice)
	w.Int(permID)
	w.Int(parentID)
	w.Float(lastFillPrice)
	w.Int(clientID)
	w.String(whyHeld)
	w.Float(mktCapPrice)
	return w.Frame()
}

// OpenOrder reports one working order in a REQ_OPEN_ORDERS response.
func OpenOrder(orderID int64, c Contract, o Order, clientID, permID int64) []byte {
	w := message(OutOpenOrder)
	w.Int(orderID)
	w.Int(c.ConID)
	w.String(c.Symbol)
	w.String(c.SecType)
	w.String(c.Expiry)
	w.Float(c.Strike)
	w.String(c.Right)
	w.Int(c.Multiplier)
	w.String(c.Exchange)
	w.String(c.Currency)
	w.String(c.LocalSymbol)
	w.String(c.TradingClass)
	w.String(o.Action)
	w.Float(o.TotalQuantity)
	w.String(o.OrderType)
	w.Float(o.LimitPrice)
	w.Float(o.AuxPrice)
	w.String(o.TIF)
	w.String(o.OCAGroup)
	w.String(o.Account)
	w.String(o.OpenClose)
	w.Int(o.Origin)
	w.String(o.OrderRef)
	w.Int(clientID)
	w.Int(permID)
	return w.Frame()
}

// OpenOrderEnd closes an open-orders response.
func OpenOrderEnd() []byte {
	return message(OutOpenOrderEnd).Frame()
}

// ContractData is one row of a contract-details response.
func ContractData(reqID int64, d ContractDetails) []byte {
	w := message(OutContractData)
	w.Int(reqID)
	w.String(d.Contract.Symbol)
	w.String(d.Contract.SecType)
	w.String(d.Contract.Expiry)
	w.Float(d.Contract.Strike)
	w.String(d.Contract.Right)
	w.String(d.Contract.Exchange)
	w.String(d.Contract.Currency)
	w.String(d.Contract.LocalSymbol)
	w.String(d.Contract.TradingClass)
	w.Int(d.Contract.ConID)
	w.Float(d.MinTick)
	w.Int(d.MdSizeMultiplier)
	w.Int(d.Contract.Multiplier)
	w.String(d.OrderTypes)
	w.String(d.ValidExchanges)
	w.Int(d.PriceMagnifier)
	w.Int(d.UnderConID)
	w.String(d.LongName)
	w.String(d.Contract.PrimaryExchange)
	w.String(d.ContractMonth)
	w.String(d.Industry)
	w.String(d.Category)
	w.String(d.Subcategory)
	w.String(d.TimeZone)
	w.String(d.TradingHours)
	w.String(d.LiquidHours)
	w.String(d.EvRule)
	w.Float(d.EvMultiplier)
	w.Int(0) // secIdListCount
	return w.Frame()
}

// ContractDataEnd closes a contract-details response.
func ContractDataEnd(reqID int64) []byte {
	w := message(OutContractDataEnd)
	w.Int(reqID)
	return w.Frame()
}

// Execution is one fill reported by EXECUTION_DATA frames.
type Execution struct {
	ExecID   string
	Time     string
	Account  string
	Exchange string
	Side     string
	Shares   float64
	Price    float64
	PermID   int64
	ClientID int64
	OrderID  int64
}

// ExecutionData is one row of an executions response.
func ExecutionData(reqID int64, c Contract, e Execution) []byte {
	w := message(OutExecutionData)
	w.Int(reqID)
	w.Int(e.OrderID)
	w.Int(c.ConID)
	w.String(c.Symbol)
	w.String(c.SecType)
	w.String(c.Expiry)
	w.Float(c.Strike)
	w.String(c.Right)
	w.Int(c.Multiplier)
	w.String(c.Exchange)
	w.String(c.Currency)
	w.String(c.LocalSymbol)
	w.String(c.TradingClass)
	w.String(e.ExecID)
	w.String(e.Time)
	w.String(e.Account)
	w.String(e.Exchange)
	w.String(e.Side)
	w.Float(e.Shares)
	w.Float(e.Price)
	w.Int(e.PermID)
	w.Int(e.ClientID)
	w.Int(0) // liquidation
	w.Float(e.Shares)
	w.Float(e.Price) // cumQty, avgPrice
	return w.Frame()
}

// ExecutionDataEnd closes an executions response.
func ExecutionDataEnd(reqID int64) []byte {
	w := message(OutExecutionDataEnd)
	w.Int(reqID)
	return w.Frame()
}

// CommissionReport reports the commission charged on a fill.
func CommissionReport(execID string, commission float64, currency string) []byte {
	w := message(OutCommissionReport)
	w.String(execID)
	w.Float(commission)
	w.String(currency)
	w.Float(UnsetFloat) // realizedPNL
	w.Float(UnsetFloat) // yield
	w.Int(UnsetInt)     // yieldRedemptionDate
	return w.Frame()
}

// SecDefOptParam describes one exchange's option chain for an underlying.
func SecDefOptParam(reqID int64, exchange string, underlyingConID int64, tradingClass, multiplier string, expirations, strikes []string) []byte {
	w := message(OutSecurityDefinitionOptionParameter)
	w.Int(reqID)
	w.String(exchange)
	w.Int(underlyingConID)
	w.String(tradingClass)
	w.String(multiplier)
	w.Int(int64(len(expirations)))
	for _, e := range expirations {
		w.String(e)
	}
	w.Int(int64(len(strikes)))
	for _, s := range strikes {
		w.String(s)
	}
	return w.Frame()
}

// SecDefOptParamEnd closes an option-chain response.
func SecDefOptParamEnd(reqID int64) []byte {
	w := message(OutSecurityDefinitionOptionParameterEnd)
	w.Int(reqID)
	return w.Frame()
}

// HistoricalData carries a full bar series in one frame.
func HistoricalData(reqID int64, startDate, endDate string, bars []Bar) []byte {
	w := message(OutHistoricalData)
	w.Int(reqID)
	w.String(startDate)
	w.String(endDate)
	w.Int(int64(len(bars)))
	for _, b := range bars {
		w.String(b.Date)
		w.Float(b.Open)
		w.Float(b.High)
		w.Float(b.Low)
		w.Float(b.Close)
		w.Int(b.Volume)
		w.Float(b.WAP)
		w.Int(b.BarCount)
	}
	return w.Frame()
}

// CurrentTime reports the server clock as a unix timestamp.
func CurrentTime(now time.Time) []byte {
	w := message(OutCurrentTime)
	w.Int(now.Unix())
	return w.Frame()
}

// MarketDepthRow is one row of a market-depth update.
func MarketDepthRow(reqID, position, operation, side int64, price float64, size int64) []byte {
	w := message(OutMarketDepth)
	w.Int(reqID)
	w.Int(position)
	w.Int(operation)
	w.Int(side)
	w.Float(price)
	w.Int(size)
	return w.Frame()
}

package tws

import (
	"context"
	"fmt"
	"time"

	"github.com/quantfold/ibsim/internal/logger"
	"github.com/quantfold/ibsim/internal/protocol/twsapi"
	"github.com/quantfold/ibsim/pkg/store"
)

// permIDOffset maps an order id to its permanent id.
const permIDOffset = 1000

// submitDelay is the simulated exchange acknowledgment latency.
const submitDelay = 100 * time.Millisecond

// dispatch routes one parsed request to its handler.
func (s *Session) dispatch(ctx context.Context, req twsapi.Request) {
	switch r := req.(type) {
	case *twsapi.StartAPIRequest:
		s.handleStartAPI(ctx, r)
	case *twsapi.MarketDataRequest:
		s.handleMarketData(ctx, r)
	case *twsapi.CancelMarketDataRequest:
		s.unsubscribe(r.ReqID)
	case *twsapi.PlaceOrderRequest:
		s.handlePlaceOrder(ctx, r)
	case *twsapi.CancelOrderRequest:
		s.handleCancelOrder(ctx, r)
	case *twsapi.OpenOrdersRequest:
		s.handleOpenOrders(ctx)
	case *twsapi.AccountDataRequest:
		s.handleAccountData(ctx, r)
	case *twsapi.PositionsRequest:
		s.handlePositions(ctx, "")
	case *twsapi.PositionsMultiRequest:
		s.handlePositions(ctx, r.Account)
	case *twsapi.ContractDataRequest:
		s.handleContractData(ctx, r)
	case *twsapi.SecDefOptParamsRequest:
		s.handleSecDefOptParams(ctx, r)
	case *twsapi.ExecutionsRequest:
		s.handleExecutions(ctx, r)
	case *twsapi.IDsRequest:
		_ = s.send(twsapi.NextValidID(s.broker.NextOrderID()))
	case *twsapi.ManagedAcctsRequest:
		s.sendManagedAccounts(ctx)
	case *twsapi.CurrentTimeRequest:
		_ = s.send(twsapi.CurrentTime(time.Now()))
	case *twsapi.HistoricalDataRequest:
		s.handleHistoricalData(ctx, r)
	default:
		s.sendError(-1, twsapi.ErrCodeServerError, "Server error when reading an API client request.")
	}
}

// handleStartAPI completes the API conversation setup: the announced client
// id replaces the listener-assigned one, and the gateway answers with the
// next order id and the managed account list.
func (s *Session) handleStartAPI(ctx context.Context, r *twsapi.StartAPIRequest) {
	s.mu.Lock()
	if r.ClientID != twsapi.UnsetInt {
		s.clientID = r.ClientID
	}
	s.started = true
	clientID := s.clientID
	s.mu.Unlock()

	logger.Debug("API session started", "address", s.conn.RemoteAddr(), "client_id", clientID)

	_ = s.send(twsapi.NextValidID(s.broker.NextOrderID()))
	s.sendManagedAccounts(ctx)
}

func (s *Session) sendManagedAccounts(ctx context.Context) {
	codes, err := s.store.ManagedAccountCodes(ctx)
	if err != nil {
		logger.Warn("Failed to list accounts", "error", err)
		return
	}
	_ = s.send(twsapi.ManagedAccounts(codes))
}

// handleMarketData registers the subscription and answers with the current
// quote snapshot as an initial burst. Subscriptions are accepted for any
// contract; symbols without a stored quote stream from the base price.
func (s *Session) handleMarketData(ctx context.Context, r *twsapi.MarketDataRequest) {
	symbol := r.Contract.Symbol
	var md *store.MarketData
	if c, err := s.resolveContract(ctx, r.Contract); err == nil {
		symbol = c.Symbol
		md, _ = s.store.GetMarketData(ctx, c.ConID)
	}
	if md == nil {
		// No snapshot: start from the base price.
		md = &store.MarketData{
			Symbol: symbol,
			Bid:    99.99, Ask: 100.01, Last: 100.00,
			BidSize: 100, AskSize: 100, Volume: 1_000_000,
		}
	}

	s.subscribe(r.ReqID, Subscription{
		Symbol:             symbol,
		Contract:           r.Contract,
		GenericTickList:    r.GenericTickList,
		Snapshot:           r.Snapshot,
		RegulatorySnapshot: r.RegulatorySnapshot,
	})

	_ = s.send(
		twsapi.MarketDataType(r.ReqID, 1),
		twsapi.TickPrice(r.ReqID, twsapi.TickBid, md.Bid, true, false),
		twsapi.TickPrice(r.ReqID, twsapi.TickAsk, md.Ask, true, false),
		twsapi.TickPrice(r.ReqID, twsapi.TickLast, md.Last, true, false),
		twsapi.TickSize(r.ReqID, twsapi.TickBidSize, md.BidSize),
		twsapi.TickSize(r.ReqID, twsapi.TickAskSize, md.AskSize),
		twsapi.TickSize(r.ReqID, twsapi.TickLastSize, 50),
		twsapi.TickSize(r.ReqID, twsapi.TickVolume, md.Volume),
	)
}

// handlePlaceOrder emits PendingSubmit and moves the order to Submitted
// after the simulated exchange latency. Market orders fill against the
// current quote after submission. Every order runs the status script;
// unknown contracts just skip persistence and fills.
func (s *Session) handlePlaceOrder(ctx context.Context, r *twsapi.PlaceOrderRequest) {
	account := r.Order.Account
	if account == "" {
		if codes, err := s.store.ListAccounts(ctx); err == nil && len(codes) > 0 {
			account = codes[0].AccountID
		}
	}

	o := &store.Order{
		OrderID:    r.OrderID,
		PermID:     r.OrderID + permIDOffset,
		ClientID:   s.ClientID(),
		AccountID:  account,
		ConID:      r.Contract.ConID,
		Symbol:     r.Contract.Symbol,
		SecType:    r.Contract.SecType,
		Exchange:   r.Contract.Exchange,
		Currency:   r.Contract.Currency,
		Action:     r.Order.Action,
		Quantity:   r.Order.TotalQuantity,
		OrderType:  r.Order.OrderType,
		LimitPrice: unsetToZero(r.Order.LimitPrice),
		AuxPrice:   unsetToZero(r.Order.AuxPrice),
		TIF:        r.Order.TIF,
		Status:     store.OrderStatusPendingSubmit,
	}
	if c, err := s.resolveContract(ctx, r.Contract); err == nil {
		o.ConID = c.ConID
		o.Symbol = c.Symbol
		o.SecType = c.SecType
		o.Exchange = c.Exchange
		o.Currency = c.Currency
	}

	persisted := true
	if err := s.store.CreateOrder(ctx, o); err != nil {
		logger.Warn("Failed to persist order", "order_id", r.OrderID, "error", err)
		persisted = false
	}
	s.metrics.OrderTransition(store.OrderStatusPendingSubmit)

	s.sendOrderStatus(o, store.OrderStatusPendingSubmit, 0, o.Quantity, 0)

	go s.progressOrder(ctx, o, persisted)
}

// progressOrder simulates the exchange acknowledging and, for market
// orders, filling the order. Unpersisted orders still report Submitted but
// never fill.
func (s *Session) progressOrder(ctx context.Context, o *store.Order, persisted bool) {
	if !sleepCtx(ctx, submitDelay) {
		return
	}
	if persisted {
		if err := s.store.UpdateOrderStatus(ctx, o.OrderID, store.OrderStatusSubmitted); err != nil {
			return
		}
	}
	s.metrics.OrderTransition(store.OrderStatusSubmitted)
	s.sendOrderStatus(o, store.OrderStatusSubmitted, 0, o.Quantity, 0)

	if o.OrderType != "MKT" || !persisted {
		return
	}
	if !sleepCtx(ctx, submitDelay) {
		return
	}
	s.fillOrder(ctx, o)
}

// fillOrder fills a market order at the last traded price and updates
// the account's position and balances.
func (s *Session) fillOrder(ctx context.Context, o *store.Order) {
	price := 100.00
	if md, err := s.store.GetMarketData(ctx, o.ConID); err == nil {
		price = md.Last
	}

	side := "BOT"
	signedQty := o.Quantity
	if o.Action == "SELL" {
		side = "SLD"
		signedQty = -o.Quantity
	}

	exec := &store.Execution{
		ExecID:    fmt.Sprintf("%08d.01", o.OrderID),
		OrderID:   o.OrderID,
		PermID:    o.PermID,
		ClientID:  o.ClientID,
		AccountID: o.AccountID,
		ConID:     o.ConID,
		Symbol:    o.Symbol,
		SecType:   o.SecType,
		Exchange:  o.Exchange,
		Side:      side,
		Shares:    o.Quantity,
		Price:     price,
	}
	if err := s.store.FillOrder(ctx, o.OrderID, price, exec); err != nil {
		logger.Warn("Failed to fill order", "order_id", o.OrderID, "error", err)
		return
	}
	s.metrics.OrderTransition(store.OrderStatusFilled)

	contract := &store.Contract{
		ConID: o.ConID, Symbol: o.Symbol, SecType: o.SecType, Currency: o.Currency,
	}
	if err := s.store.ApplyFill(ctx, o.AccountID, contract, signedQty, price); err != nil {
		logger.Warn("Failed to update position", "order_id", o.OrderID, "error", err)
	}
	if err := s.store.UpdateAccountBalances(ctx, o.AccountID, -signedQty*price, 0); err != nil {
		logger.Warn("Failed to update balances", "order_id", o.OrderID, "error", err)
	}

	s.sendOrderStatus(o, store.OrderStatusFilled, o.Quantity, 0, price)
	_ = s.send(
		twsapi.ExecutionData(-1, storeContractToWire(contract), storeExecToWire(exec)),
		twsapi.CommissionReport(exec.ExecID, commissionFor(o.Quantity), "USD"),
	)
}

func orderStatusFrame(o *store.Order, status string, filled, remaining, avgPrice float64) []byte {
	return twsapi.OrderStatus(
		o.OrderID, status, filled, remaining, avgPrice,
		o.PermID, 0, avgPrice, o.ClientID, "", 0,
	)
}

func (s *Session) sendOrderStatus(o *store.Order, status string, filled, remaining, avgPrice float64) {
	_ = s.send(orderStatusFrame(o, status, filled, remaining, avgPrice))
}

// handleCancelOrder runs the PendingCancel to Cancelled script for any
// order id. Orders the gateway never tracked report zero fill state;
// tracked orders also persist the transitions.
func (s *Session) handleCancelOrder(ctx context.Context, r *twsapi.CancelOrderRequest) {
	o, err := s.store.GetOrder(ctx, r.OrderID)
	tracked := err == nil && o.IsOpen()
	if err != nil {
		o = &store.Order{
			OrderID:  r.OrderID,
			PermID:   r.OrderID + permIDOffset,
			ClientID: s.ClientID(),
		}
	}

	if tracked {
		if err := s.store.UpdateOrderStatus(ctx, o.OrderID, store.OrderStatusPendingCancel); err != nil {
			return
		}
	}
	s.metrics.OrderTransition(store.OrderStatusPendingCancel)
	s.sendOrderStatus(o, store.OrderStatusPendingCancel, o.Filled, o.Remaining, o.AvgFillPrice)

	go func() {
		if !sleepCtx(ctx, submitDelay) {
			return
		}
		if tracked {
			if err := s.store.UpdateOrderStatus(ctx, o.OrderID, store.OrderStatusCancelled); err != nil {
				return
			}
		}
		s.metrics.OrderTransition(store.OrderStatusCancelled)
		s.sendOrderStatus(o, store.OrderStatusCancelled, o.Filled, o.Remaining, o.AvgFillPrice)
	}()
}

// handleOpenOrders replays the client's working orders. The whole reply is
// written as one unit so broadcast ticks cannot land inside it.
func (s *Session) handleOpenOrders(ctx context.Context) {
	orders, err := s.store.GetOpenOrders(ctx, s.ClientID())
	if err != nil {
		logger.Warn("Failed to query open orders", "error", err)
		_ = s.send(twsapi.OpenOrderEnd())
		return
	}

	frames := make([][]byte, 0, 2*len(orders)+1)
	for _, o := range orders {
		c := twsapi.Contract{
			ConID: o.ConID, Symbol: o.Symbol, SecType: o.SecType,
			Exchange: o.Exchange, Currency: o.Currency,
		}
		wire := twsapi.Order{
			Action:        o.Action,
			TotalQuantity: o.Quantity,
			OrderType:     o.OrderType,
			LimitPrice:    zeroToUnset(o.LimitPrice),
			AuxPrice:      zeroToUnset(o.AuxPrice),
			TIF:           o.TIF,
			Account:       o.AccountID,
		}
		frames = append(frames,
			twsapi.OpenOrder(o.OrderID, c, wire, o.ClientID, o.PermID),
			orderStatusFrame(o, o.Status, o.Filled, o.Remaining, o.AvgFillPrice),
		)
	}
	frames = append(frames, twsapi.OpenOrderEnd())
	_ = s.send(frames...)
}

// handleAccountData answers a subscribe with the account-update burst:
// balance keys, the update timestamp, portfolio rows, and the end marker.
// An unsubscribe answers with the end marker alone.
func (s *Session) handleAccountData(ctx context.Context, r *twsapi.AccountDataRequest) {
	acct, err := s.lookupAccount(ctx, r.AccountCode)
	if err != nil {
		s.sendError(-1, twsapi.ErrCodeServerError, "Account not found.")
		return
	}

	if !r.Subscribe {
		_ = s.send(twsapi.AccountDownloadEnd(acct.AccountID))
		return
	}

	frames := [][]byte{
		twsapi.AccountValue("NetLiquidation", money(acct.NetLiquidation), acct.Currency, acct.AccountID),
		twsapi.AccountValue("TotalCashValue", money(acct.TotalCash), acct.Currency, acct.AccountID),
		twsapi.AccountValue("UnrealizedPnL", money(acct.UnrealizedPNL), acct.Currency, acct.AccountID),
		twsapi.AccountValue("RealizedPnL", money(acct.RealizedPNL), acct.Currency, acct.AccountID),
		twsapi.AccountUpdateTime(time.Now()),
	}

	positions, err := s.store.GetPositions(ctx, acct.AccountID)
	if err == nil {
		for _, p := range positions {
			marketPrice := p.AvgCost
			if md, mdErr := s.store.GetMarketData(ctx, p.ConID); mdErr == nil {
				marketPrice = md.Last
			}
			c := twsapi.Contract{
				ConID: p.ConID, Symbol: p.Symbol, SecType: p.SecType, Currency: p.Currency,
			}
			marketValue := p.Position * marketPrice
			unrealized := (marketPrice - p.AvgCost) * p.Position
			frames = append(frames, twsapi.PortfolioValue(
				c, p.Position, marketPrice, marketValue, p.AvgCost, unrealized, 0, acct.AccountID,
			))
		}
	}

	frames = append(frames, twsapi.AccountDownloadEnd(acct.AccountID))
	_ = s.send(frames...)
}

// handlePositions replays one account's positions as a single burst. An
// unscoped request reports the first configured account.
func (s *Session) handlePositions(ctx context.Context, accountID string) {
	if accountID == "" {
		acct, err := s.lookupAccount(ctx, "")
		if err != nil {
			_ = s.send(twsapi.PositionEnd())
			return
		}
		accountID = acct.AccountID
	}

	positions, err := s.store.GetPositions(ctx, accountID)
	if err != nil {
		logger.Warn("Failed to query positions", "error", err)
		_ = s.send(twsapi.PositionEnd())
		return
	}

	frames := make([][]byte, 0, len(positions)+1)
	for _, p := range positions {
		c := twsapi.Contract{
			ConID: p.ConID, Symbol: p.Symbol, SecType: p.SecType, Currency: p.Currency,
		}
		frames = append(frames, twsapi.PositionData(p.AccountID, c, p.Position, p.AvgCost))
	}
	frames = append(frames, twsapi.PositionEnd())
	_ = s.send(frames...)
}

// handleContractData answers with the stored contract details, always
// closing with the end marker. The burst is one write unit.
func (s *Session) handleContractData(ctx context.Context, r *twsapi.ContractDataRequest) {
	contracts, err := s.findContracts(ctx, r.Contract)
	if err != nil {
		contracts = nil
	}

	frames := make([][]byte, 0, len(contracts)+1)
	for _, c := range contracts {
		details := twsapi.ContractDetails{
			Contract:       storeContractToWire(c),
			MinTick:        c.MinTick,
			OrderTypes:     "LMT,MKT,STP,STP LMT",
			ValidExchanges: c.Exchange,
			PriceMagnifier: 1,
			LongName:       c.LongName,
			Industry:       c.Industry,
			Category:       c.Category,
			TimeZone:       c.TimeZone,
			TradingHours:   c.TradingHours,
			LiquidHours:    c.LiquidHours,
		}
		frames = append(frames, twsapi.ContractData(r.ReqID, details))
	}
	frames = append(frames, twsapi.ContractDataEnd(r.ReqID))
	_ = s.send(frames...)
}

// handleSecDefOptParams answers with the option chain grid for the
// underlying.
func (s *Session) handleSecDefOptParams(ctx context.Context, r *twsapi.SecDefOptParamsRequest) {
	underConID := r.UnderlyingConID
	if underConID == 0 && r.UnderlyingSymbol != "" {
		if c, err := s.store.GetContractBySymbol(ctx, r.UnderlyingSymbol, r.UnderlyingSecType); err == nil {
			underConID = c.ConID
		}
	}

	chain, err := s.store.GetOptionChain(ctx, underConID)
	if err != nil || len(chain) == 0 {
		_ = s.send(twsapi.SecDefOptParamEnd(r.ReqID))
		return
	}

	expirations := make([]string, 0, 4)
	seenExp := make(map[string]struct{})
	strikes := make([]string, 0, 8)
	seenStrike := make(map[string]struct{})
	tradingClass := chain[0].TradingClass
	for _, oc := range chain {
		if _, ok := seenExp[oc.Expiry]; !ok {
			seenExp[oc.Expiry] = struct{}{}
			expirations = append(expirations, oc.Expiry)
		}
		str := trimFloat(oc.Strike)
		if _, ok := seenStrike[str]; !ok {
			seenStrike[str] = struct{}{}
			strikes = append(strikes, str)
		}
	}

	_ = s.send(
		twsapi.SecDefOptParam(r.ReqID, "SMART", underConID, tradingClass, "100", expirations, strikes),
		twsapi.SecDefOptParamEnd(r.ReqID),
	)
}

// handleExecutions replays recorded fills matching the filter.
func (s *Session) handleExecutions(ctx context.Context, r *twsapi.ExecutionsRequest) {
	execs, err := s.store.GetExecutions(ctx, store.ExecutionQuery{
		ClientID:  r.Filter.ClientID,
		AccountID: r.Filter.AccountCode,
		Symbol:    r.Filter.Symbol,
		SecType:   r.Filter.SecType,
		Exchange:  r.Filter.Exchange,
		Side:      r.Filter.Side,
	})
	if err != nil {
		logger.Warn("Failed to query executions", "error", err)
		_ = s.send(twsapi.ExecutionDataEnd(r.ReqID))
		return
	}

	frames := make([][]byte, 0, 2*len(execs)+1)
	for _, e := range execs {
		c := twsapi.Contract{
			ConID: e.ConID, Symbol: e.Symbol, SecType: e.SecType,
			Exchange: e.Exchange, Currency: "USD",
		}
		frames = append(frames,
			twsapi.ExecutionData(r.ReqID, c, storeExecToWire(e)),
			twsapi.CommissionReport(e.ExecID, commissionFor(e.Shares), "USD"),
		)
	}
	frames = append(frames, twsapi.ExecutionDataEnd(r.ReqID))
	_ = s.send(frames...)
}

// handleHistoricalData replays the stored bar series for the contract.
// Unknown contracts get an empty series, not an error.
func (s *Session) handleHistoricalData(ctx context.Context, r *twsapi.HistoricalDataRequest) {
	c, err := s.resolveContract(ctx, r.Contract)
	if err != nil {
		_ = s.send(twsapi.HistoricalData(r.ReqID, "", "", nil))
		return
	}

	stored, err := s.store.GetHistoricalBars(ctx, c.ConID, 0)
	if err != nil {
		logger.Warn("Failed to query bars", "error", err)
		stored = nil
	}

	bars := make([]twsapi.Bar, len(stored))
	for i, b := range stored {
		bars[i] = twsapi.Bar{
			Date: b.Date, Open: b.Open, High: b.High, Low: b.Low, Close: b.Close,
			Volume: b.Volume, WAP: b.WAP, BarCount: b.BarCount,
		}
	}

	start, end := "", ""
	if len(bars) > 0 {
		start = bars[0].Date + " 00:00:00"
		end = bars[len(bars)-1].Date + " 00:00:00"
	}
	_ = s.send(twsapi.HistoricalData(r.ReqID, start, end, bars))
}

// resolveContract maps a wire contract onto a stored one, by con id first
// and then by symbol.
func (s *Session) resolveContract(ctx context.Context, c twsapi.Contract) (*store.Contract, error) {
	if c.ConID > 0 {
		if found, err := s.store.GetContractByConID(ctx, c.ConID); err == nil {
			return found, nil
		}
	}
	if c.Symbol == "" {
		return nil, store.ErrContractNotFound
	}
	return s.store.GetContractBySymbol(ctx, c.Symbol, c.SecType)
}

// findContracts returns every stored contract matching a details request.
func (s *Session) findContracts(ctx context.Context, c twsapi.Contract) ([]*store.Contract, error) {
	if c.ConID > 0 {
		found, err := s.store.GetContractByConID(ctx, c.ConID)
		if err != nil {
			return nil, err
		}
		return []*store.Contract{found}, nil
	}
	return s.store.FindContracts(ctx, c.Symbol, c.SecType, c.Currency)
}

func (s *Session) lookupAccount(ctx context.Context, code string) (*store.Account, error) {
	if code != "" {
		return s.store.GetAccount(ctx, code)
	}
	accts, err := s.store.ListAccounts(ctx)
	if err != nil {
		return nil, err
	}
	if len(accts) == 0 {
		return nil, store.ErrAccountNotFound
	}
	return accts[0], nil
}

func storeContractToWire(c *store.Contract) twsapi.Contract {
	return twsapi.Contract{
		ConID:           c.ConID,
		Symbol:          c.Symbol,
		SecType:         c.SecType,
		Multiplier:      c.Multiplier,
		Exchange:        c.Exchange,
		PrimaryExchange: c.PrimaryExchange,
		Currency:        c.Currency,
		LocalSymbol:     c.LocalSymbol,
		TradingClass:    c.TradingClass,
	}
}

func storeExecToWire(e *store.Execution) twsapi.Execution {
	t := e.Time
	if t.IsZero() {
		t = time.Now()
	}
	return twsapi.Execution{
		ExecID:   e.ExecID,
		Time:     t.Format("20060102  15:04:05"),
		Account:  e.AccountID,
		Exchange: e.Exchange,
		Side:     e.Side,
		Shares:   e.Shares,
		Price:    e.Price,
		PermID:   e.PermID,
		ClientID: e.ClientID,
		OrderID:  e.OrderID,
	}
}

// commissionFor mirrors the fixed per-share commission with a one dollar
// minimum.
func commissionFor(shares float64) float64 {
	c := shares * 0.005
	if c < 1 {
		return 1
	}
	return c
}

func money(v float64) string {
	return fmt.Sprintf("%.2f", v)
}

func trimFloat(v float64) string {
	return fmt.Sprintf("%g", v)
}

func unsetToZero(v float64) float64 {
	if v == twsapi.UnsetFloat {
		return 0
	}
	return v
}

func zeroToUnset(v float64) float64 {
	if v == 0 {
		return twsapi.UnsetFloat
	}
	return v
}

// sleepCtx waits d unless ctx is cancelled first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

package twsapi

import (
	"errors"
	"testing"
)

func TestParseMessage(t *testing.T) {
	t.Run("start api", func(t *testing.T) {
		req, err := ParseMessage(InStartAPI, []string{"7", ""})
		if err != nil {
			t.Fatal(err)
		}
		sa, ok := req.(*StartAPIRequest)
		if !ok {
			t.Fatalf("got %T", req)
		}
		if sa.ClientID != 7 {
			t.Fatalf("clientID = %d", sa.ClientID)
		}
	})

	t.Run("start api without client id", func(t *testing.T) {
		req, err := ParseMessage(InStartAPI, []string{"", ""})
		if err != nil {
			t.Fatal(err)
		}
		if sa := req.(*StartAPIRequest); sa.ClientID != UnsetInt {
			t.Fatalf("clientID = %d, want unset", sa.ClientID)
		}
	})

	t.Run("market data request", func(t *testing.T) {
		fields := []string{
			"9001", // reqID
			"0", "AAPL", "STK", "", "0", "", "", "SMART", "NASDAQ", "USD", "", "",
			"",  // genericTickList
			"0", // snapshot
			"0", // regulatorySnapshot
			"",  // mktDataOptions
		}
		req, err := ParseMessage(InReqMktData, fields)
		if err != nil {
			t.Fatal(err)
		}
		md := req.(*MarketDataRequest)
		if md.ReqID != 9001 {
			t.Fatalf("reqID = %d", md.ReqID)
		}
		if md.Contract.Symbol != "AAPL" || md.Contract.SecType != "STK" {
			t.Fatalf("contract = %+v", md.Contract)
		}
		if md.Contract.Exchange != "SMART" || md.Contract.PrimaryExchange != "NASDAQ" {
			t.Fatalf("contract = %+v", md.Contract)
		}
		if md.Snapshot {
			t.Fatal("snapshot should be false")
		}
	})

	t.Run("place order", func(t *testing.T) {
		fields := []string{
			"1001", // orderID
			"0", "MSFT", "STK", "", "0", "", "", "SMART", "", "USD", "", "",
			"", "", // secIDType, secID
			"BUY", "100", "LMT", "410.5", "", "DAY", "", "DU123456", "", "0", "", "1", "0",
		}
		req, err := ParseMessage(InPlaceOrder, fields)
		if err != nil {
			t.Fatal(err)
		}
		po := req.(*PlaceOrderRequest)
		if po.OrderID != 1001 {
			t.Fatalf("orderID = %d", po.OrderID)
		}
		if po.Order.Action != "BUY" || po.Order.TotalQuantity != 100 {
			t.Fatalf("order = %+v", po.Order)
		}
		if po.Order.OrderType != "LMT" || po.Order.LimitPrice != 410.5 {
			t.Fatalf("order = %+v", po.Order)
		}
		if po.Order.AuxPrice != UnsetFloat {
			t.Fatalf("auxPrice = %v, want unset", po.Order.AuxPrice)
		}
		if !po.Order.Transmit {
			t.Fatal("transmit should be true")
		}
	})

	t.Run("cancel order", func(t *testing.T) {
		req, err := ParseMessage(InCancelOrder, []string{"1001"})
		if err != nil {
			t.Fatal(err)
		}
		if co := req.(*CancelOrderRequest); co.OrderID != 1001 {
			t.Fatalf("orderID = %d", co.OrderID)
		}
	})

	t.Run("account data", func(t *testing.T) {
		req, err := ParseMessage(InReqAcctData, []string{"1", "DU123456"})
		if err != nil {
			t.Fatal(err)
		}
		ad := req.(*AccountDataRequest)
		if !ad.Subscribe || ad.AccountCode != "DU123456" {
			t.Fatalf("got %+v", ad)
		}
	})

	t.Run("req ids defaults to one", func(t *testing.T) {
		req, err := ParseMessage(InReqIDs, []string{"1"})
		if err != nil {
			t.Fatal(err)
		}
		if ids := req.(*IDsRequest); ids.NumIDs != 1 {
			t.Fatalf("numIDs = %d", ids.NumIDs)
		}
	})

	t.Run("truncated fields parse with zero values", func(t *testing.T) {
		req, err := ParseMessage(InReqMktData, []string{"5"})
		if err != nil {
			t.Fatal(err)
		}
		md := req.(*MarketDataRequest)
		if md.ReqID != 5 || md.Contract.Symbol != "" {
			t.Fatalf("got %+v", md)
		}
	})

	t.Run("sec def opt params", func(t *testing.T) {
		req, err := ParseMessage(InReqSecDefOptParams, []string{"42", "AAPL", "", "STK", "1000"})
		if err != nil {
			t.Fatal(err)
		}
		sd := req.(*SecDefOptParamsRequest)
		if sd.ReqID != 42 || sd.UnderlyingSymbol != "AAPL" || sd.UnderlyingConID != 1000 {
			t.Fatalf("got %+v", sd)
		}
	})

	t.Run("unknown kind", func(t *testing.T) {
		_, err := ParseMessage(9999, nil)
		var uk *UnknownKindError
		if !errors.As(err, &uk) {
			t.Fatalf("err = %v", err)
		}
		if uk.Kind != 9999 {
			t.Fatalf("kind = %d", uk.Kind)
		}
	})
}

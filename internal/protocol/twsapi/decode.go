package twsapi

import (
	"fmt"
	"strconv"
)

// UnknownKindError marks an inbound kind the gateway does not implement.
// The session layer answers it with an UNKNOWN_ID error frame instead of
// dropping the connection.
type UnknownKindError struct {
	Kind int64
}

func (e *UnknownKindError) Error() string {
	return fmt.Sprintf("unknown message kind %d", e.Kind)
}

// fieldReader walks a parsed field list. Reads past the end return the
// zero/unset value and are not an error: newer clients send more trailing
// fields than older ones, and older clients fewer, so the parsers tolerate
// both directions.
type fieldReader struct {
	fields []string
	pos    int
}

func newFieldReader(fields []string) *fieldReader {
	return &fieldReader{fields: fields}
}

func (r *fieldReader) str() string {
	if r.pos >= len(r.fields) {
		return ""
	}
	s := r.fields[r.pos]
	r.pos++
	return s
}

// num parses an integer field. Empty or malformed text yields UnsetInt.
func (r *fieldReader) num() int64 {
	s := r.str()
	if s == "" {
		return UnsetInt
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return UnsetInt
	}
	return v
}

// intOr parses an integer field with a default for empty/malformed text.
func (r *fieldReader) intOr(def int64) int64 {
	v := r.num()
	if v == UnsetInt {
		return def
	}
	return v
}

// float parses a floating-point field. Empty or malformed text yields
// UnsetFloat.
func (r *fieldReader) float() float64 {
	s := r.str()
	if s == "" {
		return UnsetFloat
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return UnsetFloat
	}
	return v
}

func (r *fieldReader) floatOr(def float64) float64 {
	v := r.float()
	if v == UnsetFloat {
		return def
	}
	return v
}

// boolean treats "0" and the empty field as false, anything else as true.
func (r *fieldReader) boolean() bool {
	s := r.str()
	return s != "" && s != "0"
}

// contract reads the common contract block shared by market-data, order and
// contract-details requests.
func (r *fieldReader) contract() Contract {
	return Contract{
		ConID:           r.intOr(0),
		Symbol:          r.str(),
		SecType:         r.str(),
		Expiry:          r.str(),
		Strike:          r.floatOr(0),
		Right:           r.str(),
		Multiplier:      r.intOr(0),
		Exchange:        r.str(),
		PrimaryExchange: r.str(),
		Currency:        r.str(),
		LocalSymbol:     r.str(),
		TradingClass:    r.str(),
	}
}

// ParseMessage decodes the fields of one inbound frame into its typed
// request. Fields follow the kind directly, positionally per kind; there
// are no per-message version fields on this wire.
func ParseMessage(kind int64, fields []string) (Request, error) {
	r := newFieldReader(fields)

	switch kind {
	case InStartAPI:
		return &StartAPIRequest{
			ClientID:             r.num(),
			OptionalCapabilities: r.str(),
		}, nil

	case InReqMktData:
		req := &MarketDataRequest{ReqID: r.intOr(0)}
		req.Contract = r.contract()
		req.GenericTickList = r.str()
		req.Snapshot = r.boolean()
		req.RegulatorySnapshot = r.boolean()
		req.MktDataOptions = r.str()
		return req, nil

	case InCancelMktData:
		return &CancelMarketDataRequest{ReqID: r.intOr(0)}, nil

	case InPlaceOrder:
		req := &PlaceOrderRequest{OrderID: r.intOr(0)}
		req.Contract = r.contract()
		req.SecIDType = r.str()
		req.SecID = r.str()
		req.Order = Order{
			Action:        r.str(),
			TotalQuantity: r.floatOr(0),
			OrderType:     r.str(),
			LimitPrice:    r.float(),
			AuxPrice:      r.float(),
			TIF:           r.str(),
			OCAGroup:      r.str(),
			Account:       r.str(),
			OpenClose:     r.str(),
			Origin:        r.intOr(0),
			OrderRef:      r.str(),
			Transmit:      r.boolean(),
			ParentID:      r.intOr(0),
		}
		return req, nil

	case InCancelOrder:
		return &CancelOrderRequest{OrderID: r.intOr(0)}, nil

	case InReqOpenOrders:
		return &OpenOrdersRequest{}, nil

	case InReqAcctData:
		return &AccountDataRequest{
			Subscribe:   r.boolean(),
			AccountCode: r.str(),
		}, nil

	case InReqExecutions:
		return &ExecutionsRequest{
			ReqID: r.intOr(0),
			Filter: ExecutionFilter{
				ClientID:    r.intOr(0),
				AccountCode: r.str(),
				Time:        r.str(),
				Symbol:      r.str(),
				SecType:     r.str(),
				Exchange:    r.str(),
				Side:        r.str(),
			},
		}, nil

	case InReqIDs:
		return &IDsRequest{NumIDs: r.intOr(1)}, nil

	case InReqContractData:
		req := &ContractDataRequest{ReqID: r.intOr(0)}
		req.Contract = r.contract()
		req.IncludeExpired = r.boolean()
		return req, nil

	case InReqManagedAccts:
		return &ManagedAcctsRequest{}, nil

	case InReqHistoricalData:
		req := &HistoricalDataRequest{ReqID: r.intOr(0)}
		req.Contract = r.contract()
		req.IncludeExpired = r.boolean()
		req.EndDateTime = r.str()
		req.BarSizeSetting = r.str()
		req.DurationStr = r.str()
		req.UseRTH = r.boolean()
		req.WhatToShow = r.str()
		req.FormatDate = r.intOr(1)
		return req, nil

	case InReqCurrentTime:
		return &CurrentTimeRequest{}, nil

	case InReqPositions:
		return &PositionsRequest{}, nil

	case InReqPositionsMulti:
		return &PositionsMultiRequest{
			ReqID:     r.intOr(0),
			Account:   r.str(),
			ModelCode: r.str(),
		}, nil

	case InReqSecDefOptParams:
		return &SecDefOptParamsRequest{
			ReqID:             r.intOr(0),
			UnderlyingSymbol:  r.str(),
			FutFopExchange:    r.str(),
			UnderlyingSecType: r.str(),
			UnderlyingConID:   r.intOr(0),
		}, nil

	default:
		return nil, &UnknownKindError{Kind: kind}
	}
}

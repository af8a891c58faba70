package store

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"
)

// SeedAccount describes one account to provision at startup.
type SeedAccount struct {
	AccountID string
	Password  string
}

type seedContract struct {
	symbol   string
	secType  string
	exchange string
	primary  string
	currency string
	longName string
	industry string
	options  bool
}

// Instrument catalog provisioned on first start. ConIDs are assigned from
// 1000 in catalog order so they stay stable across runs.
var seedContracts = []seedContract{
	{"AAPL", "STK", "SMART", "NASDAQ", "USD", "Apple Inc", "Technology", true},
	{"MSFT", "STK", "SMART", "NASDAQ", "USD", "Microsoft Corporation", "Technology", true},
	{"GOOGL", "STK", "SMART", "NASDAQ", "USD", "Alphabet Inc Class A", "Technology", false},
	{"AMZN", "STK", "SMART", "NASDAQ", "USD", "Amazon.com Inc", "Consumer Cyclical", false},
	{"TSLA", "STK", "SMART", "NASDAQ", "USD", "Tesla Inc", "Consumer Cyclical", true},
	{"SPY", "STK", "SMART", "ARCA", "USD", "SPDR S&P 500 ETF Trust", "Financial", true},
	{"QQQ", "STK", "SMART", "NASDAQ", "USD", "Invesco QQQ Trust", "Financial", false},
	{"IBM", "STK", "SMART", "NYSE", "USD", "International Business Machines", "Technology", false},
}

// Seed provisions accounts, the instrument catalog, initial quotes, and a
// trailing window of daily bars. It is idempotent: rows that already exist
// are left alone.
func (s *Store) Seed(ctx context.Context, accounts []SeedAccount) error {
	for _, a := range accounts {
		if _, err := s.CreateAccount(ctx, a.AccountID, a.Password); err != nil {
			if errors.Is(err, ErrDuplicateAccount) {
				continue
			}
			return fmt.Errorf("seed account %s: %w", a.AccountID, err)
		}
	}

	existing, err := s.ListContracts(ctx)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return nil
	}

	conID := int64(1000)
	for _, sc := range seedContracts {
		c := &Contract{
			ConID:           conID,
			Symbol:          sc.symbol,
			SecType:         sc.secType,
			Exchange:        sc.exchange,
			PrimaryExchange: sc.primary,
			Currency:        sc.currency,
			LocalSymbol:     sc.symbol,
			TradingClass:    sc.symbol,
			MinTick:         0.01,
			LongName:        sc.longName,
			Industry:        sc.industry,
			TimeZone:        "US/Eastern",
			TradingHours:    "0930-1600",
			LiquidHours:     "0930-1600",
		}
		if err := s.db.WithContext(ctx).Create(c).Error; err != nil {
			return fmt.Errorf("seed contract %s: %w", sc.symbol, err)
		}

		if err := s.UpdateMarketData(ctx, &MarketData{
			ConID:   conID,
			Symbol:  sc.symbol,
			Bid:     99.99,
			Ask:     100.01,
			Last:    100.00,
			BidSize: 100,
			AskSize: 100,
			Volume:  1_000_000,
		}); err != nil {
			return err
		}

		if err := s.seedBars(ctx, conID); err != nil {
			return err
		}
		if sc.options {
			if err := s.seedOptionChain(ctx, c, &conID); err != nil {
				return err
			}
		}
		conID++
	}
	return nil
}

// seedBars writes 30 daily bars ending yesterday, random-walked around the
// base price. The walk is seeded by conID so reruns against a fresh
// database produce the same series.
func (s *Store) seedBars(ctx context.Context, conID int64) error {
	rng := rand.New(rand.NewSource(conID))
	price := 100.0
	bars := make([]*HistoricalBar, 0, 30)
	day := time.Now().AddDate(0, 0, -30)
	for i := 0; i < 30; i++ {
		open := price
		high := open * (1 + rng.Float64()*0.02)
		low := open * (1 - rng.Float64()*0.02)
		clos := low + rng.Float64()*(high-low)
		bars = append(bars, &HistoricalBar{
			ConID:    conID,
			Date:     day.Format("20060102"),
			Open:     round2(open),
			High:     round2(high),
			Low:      round2(low),
			Close:    round2(clos),
			Volume:   int64(1_000_000 + rng.Intn(9_000_000)),
			WAP:      round2((high + low + clos) / 3),
			BarCount: int64(100 + rng.Intn(900)),
		})
		price = clos
		day = day.AddDate(0, 0, 1)
	}
	return s.SaveHistoricalBars(ctx, bars)
}

// seedOptionChain writes a small strike/expiry grid against an underlying,
// consuming con ids from the shared counter.
func (s *Store) seedOptionChain(ctx context.Context, under *Contract, conID *int64) error {
	expiries := optionExpiries(time.Now(), 3)
	strikes := []float64{90, 95, 100, 105, 110}
	for _, exp := range expiries {
		for _, strike := range strikes {
			for _, right := range []string{"C", "P"} {
				*conID += 1
				oc := &OptionContract{
					ConID:        *conID,
					UnderConID:   under.ConID,
					Symbol:       under.Symbol,
					Expiry:       exp,
					Strike:       strike,
					Right:        right,
					Exchange:     "SMART",
					TradingClass: under.Symbol,
					Multiplier:   100,
				}
				if err := s.db.WithContext(ctx).Create(oc).Error; err != nil {
					return fmt.Errorf("seed option %s %s %g%s: %w", under.Symbol, exp, strike, right, err)
				}
			}
		}
	}
	return nil
}

// optionExpiries returns the next n monthly expirations (third Friday) as
// YYYYMMDD strings.
func optionExpiries(from time.Time, n int) []string {
	out := make([]string, 0, n)
	month := time.Date(from.Year(), from.Month(), 1, 0, 0, 0, 0, time.UTC)
	for len(out) < n {
		friday := thirdFriday(month)
		if friday.After(from) {
			out = append(out, friday.Format("20060102"))
		}
		month = month.AddDate(0, 1, 0)
	}
	return out
}

func thirdFriday(firstOfMonth time.Time) time.Time {
	offset := (int(time.Friday) - int(firstOfMonth.Weekday()) + 7) % 7
	return firstOfMonth.AddDate(0, 0, offset+14)
}

func round2(v float64) float64 {
	return float64(int64(v*100+0.5)) / 100
}

// Package feed drives the simulated market: it random-walks the quote
// snapshot of every seeded contract and pushes the updates to subscribed
// API clients.
package feed

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/quantfold/ibsim/internal/logger"
	"github.com/quantfold/ibsim/internal/protocol/twsapi"
	"github.com/quantfold/ibsim/pkg/config"
	"github.com/quantfold/ibsim/pkg/store"
)

// Broadcaster receives one tick update per symbol per round. The gateway
// implements this by fanning the update out to subscribed sessions.
type Broadcaster interface {
	Broadcast(symbol string, t twsapi.Ticks)
}

// quote is the in-memory walk state for one contract.
type quote struct {
	conID   int64
	symbol  string
	bid     float64
	ask     float64
	last    float64
	bidSize int64
	askSize int64
	volume  int64
}

// Feed mutates quotes on a fixed interval. Prices move by a uniform
// fraction of the last price bounded by the configured volatility; sizes
// are redrawn each round and volume accumulates.
type Feed struct {
	cfg    config.FeedConfig
	store  *store.Store
	sink   Broadcaster
	rng    *rand.Rand
	quotes []*quote
}

// New creates a feed over the contracts currently in the store. A nil seed
// source makes the walk time-seeded; tests pass a fixed seed through
// WithSeed for reproducible runs.
func New(cfg config.FeedConfig, st *store.Store, sink Broadcaster) *Feed {
	return &Feed{
		cfg:   cfg,
		store: st,
		sink:  sink,
		rng:   rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// WithSeed fixes the random source. Call before Run.
func (f *Feed) WithSeed(seed int64) *Feed {
	f.rng = rand.New(rand.NewSource(seed))
	return f
}

// load pulls the current snapshot for every contract into walk state.
func (f *Feed) load(ctx context.Context) error {
	contracts, err := f.store.ListContracts(ctx)
	if err != nil {
		return err
	}

	f.quotes = f.quotes[:0]
	for _, c := range contracts {
		md, err := f.store.GetMarketData(ctx, c.ConID)
		if err != nil {
			// Contracts without a seeded quote (option legs) do not walk.
			continue
		}
		f.quotes = append(f.quotes, &quote{
			conID:   md.ConID,
			symbol:  md.Symbol,
			bid:     md.Bid,
			ask:     md.Ask,
			last:    md.Last,
			bidSize: md.BidSize,
			askSize: md.AskSize,
			volume:  md.Volume,
		})
	}
	return nil
}

// Run ticks until ctx is cancelled. One round walks every quote, persists
// the new snapshot, and hands it to the broadcaster.
func (f *Feed) Run(ctx context.Context) error {
	if err := f.load(ctx); err != nil {
		return err
	}
	logger.Info("Tick feed started",
		"contracts", len(f.quotes),
		"interval", f.cfg.Interval,
		"volatility", f.cfg.Volatility)

	ticker := time.NewTicker(f.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("Tick feed stopped")
			return ctx.Err()
		case <-ticker.C:
			f.Step(ctx)
		}
	}
}

// Step runs one walk round over all quotes.
func (f *Feed) Step(ctx context.Context) {
	for _, q := range f.quotes {
		f.walk(q)
		if err := f.persist(ctx, q); err != nil {
			logger.Warn("Failed to persist quote", "symbol", q.symbol, "error", err)
			continue
		}
		f.publish(q)
	}
}

// walk advances one quote. The last price moves by ±volatility of itself,
// the spread stays one cent on each side, and sizes are redrawn.
func (f *Feed) walk(q *quote) {
	step := (f.rng.Float64()*2 - 1) * f.cfg.Volatility
	q.last = round2(q.last * (1 + step))
	if q.last < 0.01 {
		q.last = 0.01
	}
	q.bid = round2(q.last - 0.01)
	q.ask = round2(q.last + 0.01)
	q.bidSize = 100 + f.rng.Int63n(900)
	q.askSize = 100 + f.rng.Int63n(900)
	q.volume += 50 + f.rng.Int63n(450)
}

func (f *Feed) persist(ctx context.Context, q *quote) error {
	return f.store.UpdateMarketData(ctx, &store.MarketData{
		ConID:   q.conID,
		Symbol:  q.symbol,
		Bid:     q.bid,
		Ask:     q.ask,
		Last:    q.last,
		BidSize: q.bidSize,
		AskSize: q.askSize,
		Volume:  q.volume,
	})
}

func (f *Feed) publish(q *quote) {
	bid, ask, last := q.bid, q.ask, q.last
	bidSize, askSize, volume := q.bidSize, q.askSize, q.volume
	f.sink.Broadcast(q.symbol, twsapi.Ticks{
		Bid:     &bid,
		Ask:     &ask,
		Last:    &last,
		BidSize: &bidSize,
		AskSize: &askSize,
		Volume:  &volume,
	})
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

package adapter

import (
	"context"
	"net"
	"sync"
	"sync/atomic"

	"github.com/quantfold/ibsim/internal/adapter/tws"
	"github.com/quantfold/ibsim/internal/protocol/twsapi"
	"github.com/quantfold/ibsim/pkg/config"
	"github.com/quantfold/ibsim/pkg/metrics"
	"github.com/quantfold/ibsim/pkg/store"
)

// Gateway is the TWS protocol listener: it accepts API clients, runs one
// session per connection, and fans tick updates out to subscribers.
type Gateway struct {
	*BaseAdapter

	store      *store.Store
	sessionCfg tws.Config
	metrics    *metrics.GatewayMetrics

	mu       sync.RWMutex
	sessions map[string]*tws.Session

	orderID   atomic.Int64
	clientSeq atomic.Int64
}

// NewGateway builds the gateway from configuration. Order ids start at
// 1000 and are unique across all sessions for the process lifetime.
func NewGateway(cfg *config.Config, st *store.Store, m *metrics.GatewayMetrics) *Gateway {
	g := &Gateway{
		BaseAdapter: NewBaseAdapter(BaseConfig{
			BindAddress:     cfg.Server.Host,
			Port:            cfg.Server.Port,
			MaxConnections:  cfg.Server.MaxClients,
			ShutdownTimeout: cfg.ShutdownTimeout,
		}, "TWS"),
		store: st,
		sessionCfg: tws.Config{
			ServerVersion:  cfg.Server.ServerVersion,
			RateLimit:      cfg.Server.RateLimit,
			ReadBufferSize: cfg.Server.ReadBufferSize,
		},
		metrics:  m,
		sessions: make(map[string]*tws.Session),
	}
	g.orderID.Store(999)
	g.Metrics = gatewayRecorder{m}
	return g
}

// Serve runs the accept loop until ctx is cancelled or Stop is called.
func (g *Gateway) Serve(ctx context.Context) error {
	return g.ServeWithFactory(ctx, g, g.removeSession)
}

// NewConnection creates and registers a session for an accepted client.
// Each session gets the next client id in accept order, starting at 1;
// START_API may replace it.
func (g *Gateway) NewConnection(conn net.Conn) ConnectionHandler {
	s := tws.NewSession(conn, g.store, g, g.sessionCfg, g.metrics)
	s.SetClientID(g.clientSeq.Add(1))

	g.mu.Lock()
	g.sessions[conn.RemoteAddr().String()] = s
	g.mu.Unlock()

	return s
}

func (g *Gateway) removeSession(addr string) {
	g.mu.Lock()
	delete(g.sessions, addr)
	g.mu.Unlock()
}

// NextOrderID returns a process-wide unique order id. Ids are monotone but
// not dense: clients may observe gaps.
func (g *Gateway) NextOrderID() int64 {
	return g.orderID.Add(1)
}

// SessionCount returns the number of registered sessions.
func (g *Gateway) SessionCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.sessions)
}

// Broadcast delivers a tick update to every session subscribed to the
// symbol. Targets are snapshotted under the lock and delivery happens
// outside it, one goroutine per session; Broadcast returns without waiting
// for the writes, so a slow client cannot stall the feed or its peers.
func (g *Gateway) Broadcast(symbol string, t twsapi.Ticks) {
	g.mu.RLock()
	targets := make([]*tws.Session, 0, len(g.sessions))
	for _, s := range g.sessions {
		if s.IsSubscribed(symbol) {
			targets = append(targets, s)
		}
	}
	g.mu.RUnlock()

	if len(targets) == 0 {
		return
	}
	g.metrics.BroadcastSent()

	for _, s := range targets {
		go func(s *tws.Session) {
			s.SendMarketData(symbol, t)
		}(s)
	}
}

// gatewayRecorder adapts GatewayMetrics to the base adapter's recorder.
type gatewayRecorder struct {
	m *metrics.GatewayMetrics
}

func (r gatewayRecorder) RecordConnectionAccepted() { r.m.SessionOpened() }
func (r gatewayRecorder) RecordConnectionClosed()   { r.m.SessionClosed() }
func (r gatewayRecorder) RecordConnectionRejected() { r.m.SessionRejected() }

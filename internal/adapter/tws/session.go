// Package tws implements the per-connection session engine for the TWS API:
// handshake, message ingress, request dispatch, and tick delivery.
package tws

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/quantfold/ibsim/internal/logger"
	"github.com/quantfold/ibsim/internal/protocol/twsapi"
	"github.com/quantfold/ibsim/pkg/metrics"
	"github.com/quantfold/ibsim/pkg/store"
)

// Broker is what the session needs from the gateway that owns it.
type Broker interface {
	// NextOrderID returns a process-wide unique order id.
	NextOrderID() int64
}

// Config carries the per-session protocol settings.
type Config struct {
	// ServerVersion is reported in the handshake reply.
	ServerVersion int

	// RateLimit is the inbound message budget per second.
	RateLimit int

	// ReadBufferSize is the socket read chunk size.
	ReadBufferSize int
}

// Subscription is the descriptor attached to a live market-data request:
// the contract as the client sent it plus the request's tick options.
type Subscription struct {
	Symbol             string
	Contract           twsapi.Contract
	GenericTickList    string
	Snapshot           bool
	RegulatorySnapshot bool
}

// Session serves one API client connection. All frame writes go through the
// session's write mutex, so handler bursts and broadcast deliveries never
// interleave bytes.
type Session struct {
	conn    net.Conn
	store   *store.Store
	broker  Broker
	cfg     Config
	metrics *metrics.GatewayMetrics

	writeMu sync.Mutex
	dec     twsapi.Decoder
	limiter *rateLimiter

	clientVersion int64

	mu           sync.Mutex
	clientID     int64
	started      bool
	subsByReq    map[int64]Subscription
	subsBySymbol map[string]map[int64]struct{}
}

// NewSession wraps an accepted connection.
func NewSession(conn net.Conn, st *store.Store, broker Broker, cfg Config, m *metrics.GatewayMetrics) *Session {
	if cfg.ReadBufferSize <= 0 {
		cfg.ReadBufferSize = 4096
	}
	return &Session{
		conn:         conn,
		store:        st,
		broker:       broker,
		cfg:          cfg,
		metrics:      m,
		limiter:      newRateLimiter(cfg.RateLimit),
		subsByReq:    make(map[int64]Subscription),
		subsBySymbol: make(map[string]map[int64]struct{}),
	}
}

// ClientID returns the session's client id: the listener-assigned one, or
// the id the client announced in START_API.
func (s *Session) ClientID() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clientID
}

// SetClientID records the listener-assigned client id. START_API may
// overwrite it later.
func (s *Session) SetClientID(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clientID = id
}

// Serve runs the handshake and then the ingress loop until the connection
// closes or ctx is cancelled. A panic in a handler terminates only this
// session.
func (s *Session) Serve(ctx context.Context) {
	defer s.conn.Close()
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Session panic", "address", s.conn.RemoteAddr(), "panic", r)
		}
	}()

	// Cancellation unblocks the read by closing the socket.
	stop := context.AfterFunc(ctx, func() { _ = s.conn.Close() })
	defer stop()

	start := time.Now()
	if err := s.handshake(); err != nil {
		logger.Debug("Handshake failed", "address", s.conn.RemoteAddr(), "error", err)
		return
	}
	s.metrics.HandshakeCompleted(time.Since(start).Seconds())

	buf := make([]byte, s.cfg.ReadBufferSize)
	for {
		if ctx.Err() != nil {
			return
		}

		n, err := s.conn.Read(buf)
		if err != nil {
			return
		}
		s.dec.Feed(buf[:n])

		for {
			kind, fields, ok, err := s.dec.Next()
			if !ok {
				break
			}
			if err != nil {
				s.sendError(-1, twsapi.ErrCodeServerError, "Server error when reading an API client request.")
				continue
			}
			s.handleMessage(ctx, kind, fields)
		}
	}
}

// handshake consumes the API prologue and replies with the server version
// and connection time. The client's version token is "vN" or "vMIN..MAX";
// the v prefix is optional and an unparseable token falls back to 100.
func (s *Session) handshake() error {
	buf := make([]byte, 1024)
	n, err := s.conn.Read(buf)
	if err != nil {
		return fmt.Errorf("reading handshake: %w", err)
	}
	data := buf[:n]

	if !bytes.HasPrefix(data, []byte("API\x00")) {
		return fmt.Errorf("missing API prologue")
	}
	s.clientVersion = parseVersionToken(data[4:])

	return s.send(twsapi.ServerHello(int64(s.cfg.ServerVersion), time.Now()))
}

// parseVersionToken extracts the client's requested protocol version from
// the framed token following the API prologue.
func parseVersionToken(data []byte) int64 {
	const fallback = 100

	// The token arrives framed; tolerate a bare token too.
	if len(data) >= 4 {
		body := twsapi.SplitFields(data[4:])
		if len(body) > 0 {
			if v := parseVersionText(body[0]); v > 0 {
				return v
			}
		}
	}
	if v := parseVersionText(strings.TrimRight(string(data), "\x00")); v > 0 {
		return v
	}
	return fallback
}

// parseVersionText parses "vN", "N", or "MIN..MAX" (returning MAX).
// Returns 0 when the text is not a version token.
func parseVersionText(text string) int64 {
	text = strings.TrimPrefix(strings.TrimSpace(text), "v")
	if text == "" {
		return 0
	}
	if i := strings.Index(text, ".."); i >= 0 {
		text = text[i+2:]
	}
	v, err := strconv.ParseInt(text, 10, 64)
	if err != nil || v <= 0 {
		return 0
	}
	return v
}

// handleMessage applies rate limiting, parses, and dispatches one frame.
func (s *Session) handleMessage(ctx context.Context, kind int64, fields []string) {
	if !s.limiter.allow(time.Now()) {
		s.metrics.RateLimited()
		s.sendError(-1, twsapi.ErrCodeMaxRateExceeded, "Max message rate exceeded")
		return
	}
	s.metrics.MessageReceived(strconv.FormatInt(kind, 10))

	req, err := twsapi.ParseMessage(kind, fields)
	if err != nil {
		if _, unknown := err.(*twsapi.UnknownKindError); unknown {
			s.sendError(-1, twsapi.ErrCodeUnknownID, fmt.Sprintf("Unknown message ID: %d", kind))
			return
		}
		s.sendError(-1, twsapi.ErrCodeServerError, "Server error when reading an API client request.")
		return
	}

	s.dispatch(ctx, req)
}

// send writes frames to the client as one serialized unit.
func (s *Session) send(frames ...[]byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	for _, f := range frames {
		if _, err := s.conn.Write(f); err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) sendError(reqID, code int64, text string) {
	s.metrics.ErrorSent(strconv.FormatInt(code, 10))
	if err := s.send(twsapi.ErrorMessage(reqID, code, text)); err != nil {
		logger.Debug("Failed to send error frame", "address", s.conn.RemoteAddr(), "error", err)
	}
}

// subscribe records a market-data subscription under its request id.
func (s *Session) subscribe(reqID int64, sub Subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subsByReq[reqID] = sub
	set, ok := s.subsBySymbol[sub.Symbol]
	if !ok {
		set = make(map[int64]struct{})
		s.subsBySymbol[sub.Symbol] = set
	}
	set[reqID] = struct{}{}
}

// unsubscribe removes one subscription by request id.
func (s *Session) unsubscribe(reqID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subsByReq[reqID]
	if !ok {
		return
	}
	delete(s.subsByReq, reqID)
	if set := s.subsBySymbol[sub.Symbol]; set != nil {
		delete(set, reqID)
		if len(set) == 0 {
			delete(s.subsBySymbol, sub.Symbol)
		}
	}
}

// SubscriptionFor returns the stored descriptor for a request id.
func (s *Session) SubscriptionFor(reqID int64) (Subscription, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subsByReq[reqID]
	return sub, ok
}

// IsSubscribed reports whether this session has a live subscription for
// the symbol.
func (s *Session) IsSubscribed(symbol string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subsBySymbol[symbol]) > 0
}

// SendMarketData delivers a tick update to every subscription this session
// holds for the symbol. Nil fields in ticks are skipped. Delivery is
// serialized against handler bursts through the session write mutex.
func (s *Session) SendMarketData(symbol string, t twsapi.Ticks) {
	s.mu.Lock()
	reqIDs := make([]int64, 0, 2)
	for reqID := range s.subsBySymbol[symbol] {
		reqIDs = append(reqIDs, reqID)
	}
	s.mu.Unlock()

	if len(reqIDs) == 0 {
		return
	}

	for _, reqID := range reqIDs {
		frames := make([][]byte, 0, 6)
		if t.Bid != nil {
			frames = append(frames, twsapi.TickPrice(reqID, twsapi.TickBid, *t.Bid, true, false))
		}
		if t.Ask != nil {
			frames = append(frames, twsapi.TickPrice(reqID, twsapi.TickAsk, *t.Ask, true, false))
		}
		if t.Last != nil {
			frames = append(frames, twsapi.TickPrice(reqID, twsapi.TickLast, *t.Last, true, false))
		}
		if t.BidSize != nil {
			frames = append(frames, twsapi.TickSize(reqID, twsapi.TickBidSize, *t.BidSize))
		}
		if t.AskSize != nil {
			frames = append(frames, twsapi.TickSize(reqID, twsapi.TickAskSize, *t.AskSize))
		}
		if t.Volume != nil {
			frames = append(frames, twsapi.TickSize(reqID, twsapi.TickVolume, *t.Volume))
		}
		if err := s.send(frames...); err != nil {
			return
		}
	}
}

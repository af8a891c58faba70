// Package adapter provides shared TCP lifecycle management for protocol
// listeners: accept loop, connection tracking, connection caps, and
// graceful shutdown.
package adapter

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/quantfold/ibsim/internal/logger"
)

// ConnectionHandler represents a protocol-specific connection that can
// serve requests. Serve blocks until the connection is closed or the
// context is cancelled.
type ConnectionHandler interface {
	Serve(ctx context.Context)
}

// ConnectionFactory creates protocol-specific connection handlers for
// accepted TCP connections.
type ConnectionFactory interface {
	NewConnection(conn net.Conn) ConnectionHandler
}

// BaseConfig holds configuration common to all protocol listeners.
type BaseConfig struct {
	// BindAddress is the IP address to bind to. Empty string or "0.0.0.0"
	// binds all interfaces.
	BindAddress string

	// Port is the TCP port to listen on.
	Port int

	// MaxConnections caps concurrent client connections. Connections over
	// the cap are closed immediately after accept, before any bytes are
	// written. 0 means unlimited.
	MaxConnections int

	// ShutdownTimeout is the maximum duration to wait for active
	// connections to complete during graceful shutdown.
	ShutdownTimeout time.Duration
}

// MetricsRecorder lets protocol adapters record connection lifecycle
// metrics. A nil recorder disables collection.
type MetricsRecorder interface {
	RecordConnectionAccepted()
	RecordConnectionClosed()
	RecordConnectionRejected()
}

// OnConnectionClose is an optional callback invoked when a connection's
// serve goroutine completes, before the connection is untracked. Protocol
// adapters use it for cleanup such as subscription teardown.
type OnConnectionClose func(addr string)

// BaseAdapter provides the shared TCP accept loop and shutdown machinery.
//
// All exported methods are safe for concurrent use. Shutdown is idempotent:
// Stop may be called multiple times and concurrently with ServeWithFactory.
type BaseAdapter struct {
	// Config holds the shared configuration.
	Config BaseConfig

	// protocolName is the human-readable protocol name for logging.
	protocolName string

	// Metrics is an optional recorder for connection lifecycle metrics.
	Metrics MetricsRecorder

	listener net.Listener

	// activeConns tracks serving connections for graceful shutdown.
	activeConns sync.WaitGroup

	shutdownOnce sync.Once

	// Shutdown is closed when graceful shutdown begins.
	Shutdown chan struct{}

	// ConnCount is the current number of active connections.
	ConnCount atomic.Int32

	// ShutdownCtx is cancelled during shutdown to abort in-flight requests.
	ShutdownCtx    context.Context
	CancelRequests context.CancelFunc

	// ActiveConnections maps remote address to net.Conn for forced closure.
	ActiveConnections sync.Map

	// ListenerReady is closed once the listener accepts connections. Tests
	// use it to synchronize with startup.
	ListenerReady chan struct{}

	listenerMu sync.RWMutex
}

// NewBaseAdapter creates a BaseAdapter in a stopped state. Call
// ServeWithFactory to start.
func NewBaseAdapter(config BaseConfig, protocol string) *BaseAdapter {
	shutdownCtx, cancelRequests := context.WithCancel(context.Background())

	return &BaseAdapter{
		Config:         config,
		protocolName:   protocol,
		Shutdown:       make(chan struct{}),
		ShutdownCtx:    shutdownCtx,
		CancelRequests: cancelRequests,
		ListenerReady:  make(chan struct{}),
	}
}

// ServeWithFactory runs the TCP accept loop, delegating to factory for
// protocol-specific connection creation. It returns nil on graceful
// shutdown, or an error if the listener fails or shutdown times out.
func (b *BaseAdapter) ServeWithFactory(
	ctx context.Context,
	factory ConnectionFactory,
	onClose OnConnectionClose,
) error {
	listenAddr := fmt.Sprintf("%s:%d", b.Config.BindAddress, b.Config.Port)
	listener, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return fmt.Errorf("failed to create %s listener on port %d: %w", b.protocolName, b.Config.Port, err)
	}

	b.listenerMu.Lock()
	b.listener = listener
	b.listenerMu.Unlock()
	close(b.ListenerReady)

	logger.Info(b.protocolName+" server listening", "address", listener.Addr())

	go func() {
		<-ctx.Done()
		logger.Info(b.protocolName+" shutdown signal received", "error", ctx.Err())
		b.initiateShutdown()
	}()

	for {
		tcpConn, err := b.listener.Accept()
		if err != nil {
			select {
			case <-b.Shutdown:
				return b.gracefulShutdown()
			default:
				logger.Debug("Error accepting "+b.protocolName+" connection", "error", err)
				continue
			}
		}

		if tcp, ok := tcpConn.(*net.TCPConn); ok {
			if err := tcp.SetNoDelay(true); err != nil {
				logger.Debug("Failed to set TCP_NODELAY", "error", err)
			}
		}

		// Over-cap connections are dropped before the handshake: the client
		// sees an immediate close with no bytes.
		if b.Config.MaxConnections > 0 && int(b.ConnCount.Load()) >= b.Config.MaxConnections {
			logger.Warn(b.protocolName+" connection rejected: client cap reached",
				"address", tcpConn.RemoteAddr(), "max", b.Config.MaxConnections)
			_ = tcpConn.Close()
			if b.Metrics != nil {
				b.Metrics.RecordConnectionRejected()
			}
			continue
		}

		b.activeConns.Add(1)
		b.ConnCount.Add(1)

		connAddr := tcpConn.RemoteAddr().String()
		b.ActiveConnections.Store(connAddr, tcpConn)

		if b.Metrics != nil {
			b.Metrics.RecordConnectionAccepted()
		}

		logger.Debug(b.protocolName+" connection accepted",
			"address", tcpConn.RemoteAddr(), "active", b.ConnCount.Load())

		conn := factory.NewConnection(tcpConn)

		go func(addr string, tcp net.Conn) {
			defer func() {
				if onClose != nil {
					onClose(addr)
				}
				b.ActiveConnections.Delete(addr)
				b.activeConns.Done()
				b.ConnCount.Add(-1)
				if b.Metrics != nil {
					b.Metrics.RecordConnectionClosed()
				}
				logger.Debug(b.protocolName+" connection closed",
					"address", tcp.RemoteAddr(), "active", b.ConnCount.Load())
			}()

			conn.Serve(b.ShutdownCtx)
		}(connAddr, tcpConn)
	}
}

// initiateShutdown signals the accept loop to stop, closes the listener,
// interrupts blocking reads, and cancels in-flight requests. Idempotent.
func (b *BaseAdapter) initiateShutdown() {
	b.shutdownOnce.Do(func() {
		logger.Debug(b.protocolName + " shutdown initiated")

		close(b.Shutdown)

		b.listenerMu.Lock()
		if b.listener != nil {
			if err := b.listener.Close(); err != nil {
				logger.Debug("Error closing "+b.protocolName+" listener", "error", err)
			}
		}
		b.listenerMu.Unlock()

		b.interruptBlockingReads()
		b.CancelRequests()
	})
}

// interruptBlockingReads sets a short deadline on all active connections to
// unblock pending reads during shutdown.
func (b *BaseAdapter) interruptBlockingReads() {
	deadline := time.Now().Add(100 * time.Millisecond)

	b.ActiveConnections.Range(func(key, value any) bool {
		if conn, ok := value.(net.Conn); ok {
			if err := conn.SetReadDeadline(deadline); err != nil {
				logger.Debug("Error setting shutdown deadline on connection",
					"address", key, "error", err)
			}
		}
		return true
	})
}

// gracefulShutdown waits for active connections to finish or times out and
// force-closes them.
func (b *BaseAdapter) gracefulShutdown() error {
	activeCount := b.ConnCount.Load()
	logger.Info(b.protocolName+" graceful shutdown: waiting for active connections",
		"active", activeCount, "timeout", b.Config.ShutdownTimeout)

	done := make(chan struct{})
	go func() {
		b.activeConns.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info(b.protocolName + " graceful shutdown complete: all connections closed")
		return nil

	case <-time.After(b.Config.ShutdownTimeout):
		remaining := b.ConnCount.Load()
		logger.Warn(b.protocolName+" shutdown timeout exceeded - forcing closure",
			"active", remaining, "timeout", b.Config.ShutdownTimeout)
		b.forceCloseConnections()
		return fmt.Errorf("%s shutdown timeout: %d connections force-closed", b.protocolName, remaining)
	}
}

// forceCloseConnections closes all tracked connections.
func (b *BaseAdapter) forceCloseConnections() {
	closedCount := 0
	b.ActiveConnections.Range(func(key, value any) bool {
		addr := key.(string)
		conn := value.(net.Conn)
		if err := conn.Close(); err != nil {
			logger.Debug("Error force-closing connection", "address", addr, "error", err)
		} else {
			closedCount++
		}
		return true
	})
	if closedCount > 0 {
		logger.Info("Force-closed connections", "count", closedCount)
	}
}

// Stop initiates graceful shutdown and waits for active connections up to
// the context deadline (or the configured timeout when ctx is nil).
func (b *BaseAdapter) Stop(ctx context.Context) error {
	b.initiateShutdown()

	if ctx == nil {
		return b.gracefulShutdown()
	}

	done := make(chan struct{})
	go func() {
		b.activeConns.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info(b.protocolName + " graceful shutdown complete: all connections closed")
		return nil
	case <-ctx.Done():
		remaining := b.ConnCount.Load()
		logger.Warn(b.protocolName+" shutdown context cancelled",
			"active", remaining, "error", ctx.Err())
		b.forceCloseConnections()
		return ctx.Err()
	}
}

// GetActiveConnections returns the current number of active connections.
func (b *BaseAdapter) GetActiveConnections() int32 {
	return b.ConnCount.Load()
}

// GetListenerAddr returns the listen address. Blocks until the listener is
// ready, which makes it safe for tests that dial immediately.
func (b *BaseAdapter) GetListenerAddr() string {
	<-b.ListenerReady

	b.listenerMu.RLock()
	defer b.listenerMu.RUnlock()

	if b.listener == nil {
		return ""
	}
	return b.listener.Addr().String()
}

// Port returns the configured TCP port.
func (b *BaseAdapter) Port() int {
	return b.Config.Port
}

// Protocol returns the human-readable protocol name.
func (b *BaseAdapter) Protocol() string {
	return b.protocolName
}

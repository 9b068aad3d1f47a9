package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/KungFuJesus/ntetris/internal/config"
	"github.com/KungFuJesus/ntetris/internal/metrics"
	"github.com/KungFuJesus/ntetris/internal/player"
	"github.com/KungFuJesus/ntetris/internal/protocol"
)

// tracerName identifies spans produced by the session server
const tracerName = "github.com/KungFuJesus/ntetris/internal/server"

// readTimeout lets the receive loop observe shutdown between datagrams
const readTimeout = 1 * time.Second

// UDPServer receives client datagrams and answers each one exactly once
type UDPServer struct {
	conn     *net.UDPConn
	config   *config.ServerConfig
	logger   *slog.Logger
	registry *player.Registry
	metrics  *metrics.Metrics
	events   *EventHub
	tracer   trace.Tracer

	// Concurrency management
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	pool   *Pool
	sender *sender

	stopOnce sync.Once

	// Counters
	packetsReceived  atomic.Uint64
	packetsProcessed atomic.Uint64
	packetsDropped   atomic.Uint64
	validationErrors atomic.Uint64
	playersKicked    atomic.Uint64
	playersLeft      atomic.Uint64
	playersExpired   atomic.Uint64
}

// incomingPacket represents a received UDP datagram with metadata
type incomingPacket struct {
	data       []byte
	remoteAddr netip.AddrPort
	timestamp  time.Time
}

// NewUDPServer creates a new UDP server instance. events may be nil.
func NewUDPServer(cfg *config.ServerConfig, logger *slog.Logger, registry *player.Registry,
	m *metrics.Metrics, events *EventHub) *UDPServer {
	ctx, cancel := context.WithCancel(context.Background())

	return &UDPServer{
		config:   cfg,
		logger:   logger,
		registry: registry,
		metrics:  m,
		events:   events,
		tracer:   otel.Tracer(tracerName),
		ctx:      ctx,
		cancel:   cancel,
		pool:     NewPool(logger, cfg.Workers, cfg.QueueSize),
	}
}

// SetTracerProvider replaces the global tracer provider for this server's
// spans. It must be called before Start.
func (s *UDPServer) SetTracerProvider(tp trace.TracerProvider) {
	s.tracer = tp.Tracer(tracerName)
}

// Start binds the socket and starts the sender, the workers and the receive loop
func (s *UDPServer) Start() error {
	addr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(s.config.BindAddress, fmt.Sprint(s.config.UDPPort)))
	if err != nil {
		return fmt.Errorf("failed to resolve UDP address: %w", err)
	}

	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on UDP: %w", err)
	}

	s.conn = conn

	if err := s.conn.SetReadBuffer(s.config.BufferSize); err != nil {
		s.logger.Warn("Failed to set UDP read buffer size",
			slog.Int("buffer_size", s.config.BufferSize),
			slog.String("error", err.Error()),
		)
	}

	s.sender = newSender(conn, s.logger, s.metrics, s.config.SendQueueSize)
	s.sender.start()
	s.pool.Start()

	s.wg.Add(1)
	go s.receiveLoop()

	s.logger.Info("UDP server started",
		slog.String("address", s.conn.LocalAddr().String()),
		slog.Int("buffer_size", s.config.BufferSize),
		slog.Int("workers", s.config.Workers),
		slog.Int("queue_size", s.config.QueueSize),
	)

	return nil
}

// LocalAddr returns the bound socket address, or nil before Start
func (s *UDPServer) LocalAddr() net.Addr {
	if s.conn == nil {
		return nil
	}
	return s.conn.LocalAddr()
}

// Pool returns the worker pool shared with the sweeper
func (s *UDPServer) Pool() *Pool {
	return s.pool
}

// Stop stops the receive loop, finishes queued jobs, flushes pending
// replies and closes the socket
func (s *UDPServer) Stop() error {
	var closeErr error

	s.stopOnce.Do(func() {
		s.logger.Info("Stopping UDP server...")

		s.cancel()

		if s.conn != nil {
			// unblock a pending read immediately
			s.conn.SetReadDeadline(time.Now())
		}
		s.wg.Wait()

		s.pool.Stop()

		if s.sender != nil {
			s.sender.stop()
		}

		if s.conn != nil {
			if err := s.conn.Close(); err != nil {
				s.logger.Warn("Error closing UDP connection", slog.String("error", err.Error()))
				closeErr = err
			}
		}

		stats := s.GetStatistics()
		s.logger.Info("UDP server stopped",
			slog.Uint64("packets_received", stats.PacketsReceived),
			slog.Uint64("packets_processed", stats.PacketsProcessed),
			slog.Uint64("packets_dropped", stats.PacketsDropped),
			slog.Uint64("validation_errors", stats.ValidationErrors),
			slog.Uint64("replies_sent", stats.RepliesSent),
		)
	})

	return closeErr
}

// receiveLoop is the main datagram receiving loop
func (s *UDPServer) receiveLoop() {
	defer s.wg.Done()

	buffer := make([]byte, s.config.BufferSize)

	for {
		select {
		case <-s.ctx.Done():
			s.logger.Info("Receive loop stopping due to context cancellation")
			return
		default:
		}

		if err := s.conn.SetReadDeadline(time.Now().Add(readTimeout)); err != nil {
			s.logger.Error("Failed to set read deadline", slog.String("error", err.Error()))
			continue
		}

		n, remoteAddr, err := s.conn.ReadFromUDPAddrPort(buffer)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}

			select {
			case <-s.ctx.Done():
				return
			default:
				s.logger.Error("Failed to read UDP datagram", slog.String("error", err.Error()))
				continue
			}
		}

		if n == 0 {
			continue
		}

		s.packetsReceived.Add(1)
		s.metrics.RecordPacketReceived()

		// buffer is reused by the next read
		data := make([]byte, n)
		copy(data, buffer[:n])

		packet := &incomingPacket{
			data:       data,
			remoteAddr: netip.AddrPortFrom(remoteAddr.Addr().Unmap(), remoteAddr.Port()),
			timestamp:  time.Now(),
		}

		if !s.pool.Submit(func(workerID int) { s.handlePacket(packet, workerID) }) {
			s.packetsDropped.Add(1)
			s.metrics.RecordPacketDropped()
			s.logger.Warn("Packet processing queue full, dropping datagram",
				slog.String("remote_addr", packet.remoteAddr.String()),
				slog.Int("packet_size", n),
			)
		}
		s.metrics.SetQueueSize(s.pool.Len())
	}
}

// send queues a datagram for the sender goroutine
func (s *UDPServer) send(data []byte, addr netip.AddrPort) {
	if s.sender == nil || !s.sender.enqueue(data, addr) {
		s.logger.Debug("Sender stopped, datagram discarded",
			slog.String("remote_addr", addr.String()),
			slog.String("type", protocol.TypeOf(data).String()),
		)
	}
}

// Players returns a snapshot of all registered players ordered by id
func (s *UDPServer) Players() []player.Player {
	return s.registry.Snapshot()
}

// KickByName removes the named player and tells its client why
func (s *UDPServer) KickByName(name, reason string) (player.Player, error) {
	p, ok := s.registry.RemoveByName(name)
	if !ok {
		return player.Player{}, fmt.Errorf("%w: %q", player.ErrNotFound, name)
	}
	s.kicked(p, reason)
	return p, nil
}

// KickByID removes the player with the given id and tells its client why
func (s *UDPServer) KickByID(id uint32, reason string) (player.Player, error) {
	p, ok := s.registry.Remove(id)
	if !ok {
		return player.Player{}, fmt.Errorf("%w: %d", player.ErrNotFound, id)
	}
	s.kicked(p, reason)
	return p, nil
}

func (s *UDPServer) kicked(p player.Player, reason string) {
	s.playersKicked.Add(1)
	s.metrics.RecordPlayerKicked("operator", time.Since(p.RegisteredAt).Seconds())
	s.metrics.SetActivePlayers(s.registry.Len())

	s.send(protocol.NewKick(reason), p.Addr)

	e := newPlayerEvent(EventKicked, p)
	e.Reason = reason
	s.events.Publish(e)

	s.logger.Info("Player kicked",
		slog.Uint64("player_id", uint64(p.ID)),
		slog.String("name", p.Name),
		slog.String("reason", reason),
	)
}

// GetStatistics returns current server statistics
func (s *UDPServer) GetStatistics() ServerStatistics {
	stats := ServerStatistics{
		PacketsReceived:  s.packetsReceived.Load(),
		PacketsProcessed: s.packetsProcessed.Load(),
		PacketsDropped:   s.packetsDropped.Load(),
		ValidationErrors: s.validationErrors.Load(),
		PlayersKicked:    s.playersKicked.Load(),
		PlayersLeft:      s.playersLeft.Load(),
		PlayersExpired:   s.playersExpired.Load(),
		ActivePlayers:    uint64(s.registry.Len()),
		QueueSize:        uint64(s.pool.Len()),
		QueueCapacity:    uint64(s.pool.Cap()),
	}
	if s.sender != nil {
		stats.RepliesSent = s.sender.sent.Load()
		stats.SendErrors = s.sender.failed.Load()
	}
	return stats
}

// ServerStatistics represents server performance counters
type ServerStatistics struct {
	PacketsReceived  uint64 `json:"packets_received"`
	PacketsProcessed uint64 `json:"packets_processed"`
	PacketsDropped   uint64 `json:"packets_dropped"`
	ValidationErrors uint64 `json:"validation_errors"`
	RepliesSent      uint64 `json:"replies_sent"`
	SendErrors       uint64 `json:"send_errors"`
	PlayersKicked    uint64 `json:"players_kicked"`
	PlayersLeft      uint64 `json:"players_disconnected"`
	PlayersExpired   uint64 `json:"players_expired"`
	ActivePlayers    uint64 `json:"active_players"`
	QueueSize        uint64 `json:"queue_size"`
	QueueCapacity    uint64 `json:"queue_capacity"`
}

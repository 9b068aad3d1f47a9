package server

import (
	"log/slog"
	"net/netip"
	"sync"
	"sync/atomic"

	"github.com/KungFuJesus/ntetris/internal/metrics"
	"github.com/KungFuJesus/ntetris/internal/protocol"
)

// PacketWriter writes one datagram to a peer. *net.UDPConn implements it.
type PacketWriter interface {
	WriteToUDPAddrPort(b []byte, addr netip.AddrPort) (int, error)
}

// outgoingDatagram is a reply waiting for the sender
type outgoingDatagram struct {
	data []byte
	addr netip.AddrPort
}

// sender owns every write to the socket. Workers and the sweeper enqueue
// datagrams; one goroutine writes them in order.
type sender struct {
	w       PacketWriter
	logger  *slog.Logger
	metrics *metrics.Metrics

	queue  chan outgoingDatagram
	mu     sync.RWMutex // guards closed against concurrent enqueue
	closed bool
	done   chan struct{}

	sent   atomic.Uint64
	failed atomic.Uint64
}

func newSender(w PacketWriter, logger *slog.Logger, m *metrics.Metrics, queueSize int) *sender {
	if queueSize < 1 {
		queueSize = 1
	}
	return &sender{
		w:       w,
		logger:  logger,
		metrics: m,
		queue:   make(chan outgoingDatagram, queueSize),
		done:    make(chan struct{}),
	}
}

// start launches the writer goroutine
func (s *sender) start() {
	go s.run()
}

// enqueue hands a datagram to the writer, blocking while the queue is full.
// It reports false once the sender has been stopped.
func (s *sender) enqueue(data []byte, addr netip.AddrPort) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return false
	}
	s.queue <- outgoingDatagram{data: data, addr: addr}
	return true
}

// stop rejects further datagrams, writes the ones still queued and waits
// for the writer to exit
func (s *sender) stop() {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.queue)
	}
	s.mu.Unlock()

	<-s.done
}

func (s *sender) run() {
	defer close(s.done)

	for d := range s.queue {
		msgType := protocol.TypeOf(d.data)
		if _, err := s.w.WriteToUDPAddrPort(d.data, d.addr); err != nil {
			s.failed.Add(1)
			s.metrics.RecordSendError()
			s.logger.Warn("Failed to send datagram",
				slog.String("remote_addr", d.addr.String()),
				slog.String("type", msgType.String()),
				slog.String("error", err.Error()),
			)
			continue
		}
		s.sent.Add(1)
		s.metrics.RecordReply(msgType.String())
	}
}

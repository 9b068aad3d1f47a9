package server

import (
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/KungFuJesus/ntetris/internal/player"
	"github.com/KungFuJesus/ntetris/internal/protocol"
)

// handlePacket processes a single datagram and queues exactly one reply to its sender
func (s *UDPServer) handlePacket(packet *incomingPacket, workerID int) {
	start := time.Now()
	requestID := uuid.NewString()
	msgType := protocol.TypeOf(packet.data)

	_, span := s.tracer.Start(s.ctx, "ntetris.handle_packet",
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("ntetris.request_id", requestID),
			attribute.String("ntetris.msg_type", msgType.String()),
			attribute.String("ntetris.remote_addr", packet.remoteAddr.String()),
			attribute.Int("ntetris.packet_size", len(packet.data)),
		),
	)
	defer span.End()

	logger := s.logger.With(
		slog.String("request_id", requestID),
		slog.String("remote_addr", packet.remoteAddr.String()),
		slog.Int("worker_id", workerID),
	)

	reply := s.safeDispatch(packet, logger)

	replyType := protocol.TypeOf(reply)
	span.SetAttributes(attribute.String("ntetris.reply_type", replyType.String()))
	if replyType == protocol.ErrPacket {
		span.SetStatus(codes.Error, protocol.ErrCode(reply[1]).String())
	} else {
		span.SetStatus(codes.Ok, "")
	}

	s.send(reply, packet.remoteAddr)

	s.packetsProcessed.Add(1)
	s.metrics.RecordPacketProcessed(time.Since(start).Seconds())
	s.metrics.SetQueueSize(s.pool.Len())

	logger.Debug("Datagram processed",
		slog.String("type", msgType.String()),
		slog.String("reply", replyType.String()),
		slog.Duration("queued", start.Sub(packet.timestamp)),
		slog.Duration("elapsed", time.Since(start)),
	)
}

// safeDispatch turns a panicking handler into a SERVER_ERROR reply
func (s *UDPServer) safeDispatch(packet *incomingPacket, logger *slog.Logger) (reply []byte) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Packet handler panicked",
				slog.String("type", protocol.TypeOf(packet.data).String()),
				slog.Any("panic", r),
			)
			reply = protocol.NewErrorPacket(protocol.ServerError)
		}
	}()

	return s.dispatch(packet, logger)
}

// dispatch validates the datagram and routes it by type
func (s *UDPServer) dispatch(packet *incomingPacket, logger *slog.Logger) []byte {
	msgType := protocol.TypeOf(packet.data)

	if _, err := protocol.Validate(packet.data, msgType); err != nil {
		reason, ok := protocol.ReasonOf(err)
		if !ok {
			reason = protocol.ServerError
		}
		s.validationErrors.Add(1)
		s.metrics.RecordValidationError(reason.String())
		logger.Warn("Rejected datagram",
			slog.String("type", msgType.String()),
			slog.String("reason", reason.String()),
			slog.String("error", err.Error()),
		)
		return protocol.NewErrorPacket(reason)
	}

	switch msgType {
	case protocol.RegisterClient:
		return s.handleRegister(packet, logger)
	case protocol.Ping:
		return s.handlePing(packet, logger)
	case protocol.ClientAck:
		return s.handleAdvance(packet, player.EventClientAck, 0, logger)
	case protocol.JoinRoom:
		payload, err := protocol.ParseJoinRoom(packet.data)
		if err != nil {
			return s.parseFailure(msgType, err, logger)
		}
		return s.handleAdvance(packet, player.EventJoinRoom, payload.RoomID, logger)
	case protocol.Disconnect:
		return s.handleDisconnect(packet, logger)
	default:
		// LIST_ROOMS and GAME_INPUT are recognized but not served
		s.metrics.RecordValidationError(protocol.UnsupportedMsg.String())
		logger.Debug("Unsupported message", slog.String("type", msgType.String()))
		return protocol.NewErrorPacket(protocol.UnsupportedMsg)
	}
}

func (s *UDPServer) handleRegister(packet *incomingPacket, logger *slog.Logger) []byte {
	payload, err := protocol.ParseRegisterClient(packet.data)
	if err != nil {
		return s.parseFailure(protocol.RegisterClient, err, logger)
	}

	p, err := s.registry.Register(payload.Name, packet.remoteAddr)
	if err != nil {
		if errors.Is(err, player.ErrDuplicateName) {
			logger.Info("Registration rejected, name in use", slog.String("name", payload.Name))
			return protocol.NewErrorPacket(protocol.DuplicateName)
		}
		logger.Error("Registration failed",
			slog.String("name", payload.Name),
			slog.String("error", err.Error()),
		)
		return protocol.NewErrorPacket(protocol.ServerError)
	}

	s.metrics.RecordPlayerRegistered()
	s.metrics.SetActivePlayers(s.registry.Len())
	s.events.Publish(newPlayerEvent(EventRegistered, p))

	logger.Info("Player registered",
		slog.Uint64("player_id", uint64(p.ID)),
		slog.String("name", p.Name),
	)

	return protocol.NewRegAck(p.ID)
}

func (s *UDPServer) handlePing(packet *incomingPacket, logger *slog.Logger) []byte {
	id, code, ok := s.authorize(packet, logger)
	if !ok {
		return protocol.NewErrorPacket(code)
	}

	if _, err := s.registry.Touch(id); err != nil {
		return protocol.NewErrorPacket(errorCode(err))
	}

	return protocol.NewPing(id)
}

func (s *UDPServer) handleAdvance(packet *incomingPacket, event player.Event, roomID uint32, logger *slog.Logger) []byte {
	id, code, ok := s.authorize(packet, logger)
	if !ok {
		return protocol.NewErrorPacket(code)
	}

	p, err := s.registry.Advance(id, event, roomID)
	if err != nil {
		logger.Info("State change rejected",
			slog.Uint64("player_id", uint64(id)),
			slog.String("event", event.String()),
			slog.String("error", err.Error()),
		)
		return protocol.NewErrorPacket(errorCode(err))
	}

	s.events.Publish(newPlayerEvent(EventStateChanged, p))

	logger.Debug("Player state changed",
		slog.Uint64("player_id", uint64(p.ID)),
		slog.String("state", p.State.String()),
	)

	return protocol.NewStateUpdate(p.ID, uint8(p.State))
}

func (s *UDPServer) handleDisconnect(packet *incomingPacket, logger *slog.Logger) []byte {
	id, code, ok := s.authorize(packet, logger)
	if !ok {
		return protocol.NewErrorPacket(code)
	}

	p, removed := s.registry.Remove(id)
	if !removed {
		return protocol.NewErrorPacket(protocol.UnknownPlayer)
	}

	s.playersLeft.Add(1)
	s.metrics.RecordPlayerKicked("disconnect", time.Since(p.RegisteredAt).Seconds())
	s.metrics.SetActivePlayers(s.registry.Len())
	s.events.Publish(newPlayerEvent(EventDisconnected, p))

	logger.Info("Player disconnected",
		slog.Uint64("player_id", uint64(p.ID)),
		slog.String("name", p.Name),
	)

	return protocol.NewKick("disconnected")
}

// authorize resolves the player id carried by the datagram and checks that
// it was sent from the player's registered address
func (s *UDPServer) authorize(packet *incomingPacket, logger *slog.Logger) (uint32, protocol.ErrCode, bool) {
	id, err := protocol.ParsePlayerID(packet.data)
	if err != nil {
		return 0, protocol.BadLen, false
	}

	p, exists := s.registry.FindByID(id)
	if !exists {
		logger.Debug("Unknown player", slog.Uint64("player_id", uint64(id)))
		return id, protocol.UnknownPlayer, false
	}

	if p.Addr != packet.remoteAddr {
		logger.Warn("Player id used from a foreign address",
			slog.Uint64("player_id", uint64(id)),
			slog.String("registered_addr", p.Addr.String()),
		)
		return id, protocol.UnknownPlayer, false
	}

	return id, 0, true
}

func (s *UDPServer) parseFailure(t protocol.MsgType, err error, logger *slog.Logger) []byte {
	s.validationErrors.Add(1)
	s.metrics.RecordValidationError(protocol.BadLen.String())
	logger.Warn("Failed to parse datagram",
		slog.String("type", t.String()),
		slog.String("error", err.Error()),
	)
	return protocol.NewErrorPacket(protocol.BadLen)
}

// errorCode maps a registry error to the ERR_PACKET reason sent to the client
func errorCode(err error) protocol.ErrCode {
	switch {
	case errors.Is(err, player.ErrNotFound):
		return protocol.UnknownPlayer
	case errors.Is(err, player.ErrIllegalTransition):
		return protocol.BadState
	case errors.Is(err, player.ErrDuplicateName):
		return protocol.DuplicateName
	default:
		return protocol.ServerError
	}
}

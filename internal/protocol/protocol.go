package protocol

import (
	"encoding/binary"
	"fmt"
)

// MsgType is the 1-byte type tag that starts every datagram
type MsgType uint8

// Message types
const (
	RegisterClient    MsgType = 0x01
	RegisterTetrad    MsgType = 0x02
	RegAck            MsgType = 0x03
	ErrPacket         MsgType = 0x04
	KickClient        MsgType = 0x05
	UpdateClientState MsgType = 0x06
	Ping              MsgType = 0x07
	ClientAck         MsgType = 0x08
	JoinRoom          MsgType = 0x09
	Disconnect        MsgType = 0x0A
	ListRooms         MsgType = 0x0B
	GameInput         MsgType = 0x0C
)

// ErrCode is the reason carried by an ERR_PACKET
type ErrCode uint8

// Error reason codes
const (
	BadLen         ErrCode = 0x01
	IllegalMsg     ErrCode = 0x02
	UnsupportedMsg ErrCode = 0x03
	DuplicateName  ErrCode = 0x04
	UnknownPlayer  ErrCode = 0x05
	BadState       ErrCode = 0x06
	ServerError    ErrCode = 0x07
)

// Packet structure sizes
const (
	HeaderSize      = 1 // type tag
	PlayerIDSize    = 4
	RoomIDSize      = 4
	NameLenSize     = 1
	ReasonLenSize   = 1
	MaxNameLength   = 16
	MaxReasonLength = 255

	RegisterClientMinSize = HeaderSize + NameLenSize
	RegisterClientMaxSize = RegisterClientMinSize + MaxNameLength
	RegisterTetradSize    = HeaderSize + PlayerIDSize + 1
	RegAckSize            = HeaderSize + PlayerIDSize
	ErrPacketSize         = HeaderSize + 1
	KickClientMinSize     = HeaderSize + ReasonLenSize
	UpdateClientStateSize = HeaderSize + PlayerIDSize + 1
	PingSize              = HeaderSize + PlayerIDSize
	ClientAckSize         = HeaderSize + PlayerIDSize
	JoinRoomSize          = HeaderSize + PlayerIDSize + RoomIDSize
	DisconnectSize        = HeaderSize + PlayerIDSize
	ListRoomsSize         = HeaderSize + PlayerIDSize
	GameInputSize         = HeaderSize + PlayerIDSize + 1
)

// RegisterClientPayload is the decoded REGISTER_CLIENT payload
// Layout: [NameLen:1][Name:NameLen]
type RegisterClientPayload struct {
	Name string
}

// JoinRoomPayload is the decoded JOIN_ROOM payload
// Layout: [PlayerID:4][RoomID:4]
type JoinRoomPayload struct {
	PlayerID uint32
	RoomID   uint32
}

// StateUpdatePayload is the decoded UPDATE_CLIENT_STATE payload
// Layout: [PlayerID:4][State:1]
type StateUpdatePayload struct {
	PlayerID uint32
	State    uint8
}

// IsServerOnly reports whether t may only travel from server to client
func (t MsgType) IsServerOnly() bool {
	switch t {
	case RegisterTetrad, RegAck, ErrPacket, KickClient, UpdateClientState:
		return true
	}
	return false
}

// IsKnown reports whether t is a recognized message type
func (t MsgType) IsKnown() bool {
	return t >= RegisterClient && t <= GameInput
}

// String returns the wire name of the message type
func (t MsgType) String() string {
	switch t {
	case RegisterClient:
		return "REGISTER_CLIENT"
	case RegisterTetrad:
		return "REGISTER_TETRAD"
	case RegAck:
		return "REG_ACK"
	case ErrPacket:
		return "ERR_PACKET"
	case KickClient:
		return "KICK_CLIENT"
	case UpdateClientState:
		return "UPDATE_CLIENT_STATE"
	case Ping:
		return "PING"
	case ClientAck:
		return "CLIENT_ACK"
	case JoinRoom:
		return "JOIN_ROOM"
	case Disconnect:
		return "DISCONNECT"
	case ListRooms:
		return "LIST_ROOMS"
	case GameInput:
		return "GAME_INPUT"
	default:
		return fmt.Sprintf("Unknown(0x%02x)", uint8(t))
	}
}

// String returns the wire name of the error code
func (c ErrCode) String() string {
	switch c {
	case BadLen:
		return "BAD_LEN"
	case IllegalMsg:
		return "ILLEGAL_MSG"
	case UnsupportedMsg:
		return "UNSUPPORTED_MSG"
	case DuplicateName:
		return "DUPLICATE_NAME"
	case UnknownPlayer:
		return "UNKNOWN_PLAYER"
	case BadState:
		return "BAD_STATE"
	case ServerError:
		return "SERVER_ERROR"
	default:
		return fmt.Sprintf("Unknown(0x%02x)", uint8(c))
	}
}

// TypeOf returns the type tag of a datagram. The caller guarantees len(buf) > 0.
func TypeOf(buf []byte) MsgType {
	return MsgType(buf[0])
}

// expectedLength returns the exact datagram size for t given buf.
// Variable-length types read their declared length field when present.
func expectedLength(buf []byte, t MsgType) (int, bool) {
	switch t {
	case RegisterClient:
		if len(buf) < RegisterClientMinSize {
			return RegisterClientMinSize, true
		}
		declared := int(buf[HeaderSize])
		if declared > MaxNameLength {
			return RegisterClientMaxSize, false
		}
		return RegisterClientMinSize + declared, true
	case KickClient:
		if len(buf) < KickClientMinSize {
			return KickClientMinSize, true
		}
		return KickClientMinSize + int(buf[HeaderSize]), true
	case RegisterTetrad:
		return RegisterTetradSize, true
	case RegAck:
		return RegAckSize, true
	case ErrPacket:
		return ErrPacketSize, true
	case UpdateClientState:
		return UpdateClientStateSize, true
	case Ping:
		return PingSize, true
	case ClientAck:
		return ClientAckSize, true
	case JoinRoom:
		return JoinRoomSize, true
	case Disconnect:
		return DisconnectSize, true
	case ListRooms:
		return ListRoomsSize, true
	case GameInput:
		return GameInputSize, true
	}
	return 0, false
}

// Validate checks buf against its declared type t and returns the length
// the type requires. Server-only types fail with ILLEGAL_MSG whatever their
// length, unknown tags with UNSUPPORTED_MSG, and client types whose length
// differs from the expected one with BAD_LEN.
func Validate(buf []byte, t MsgType) (int, error) {
	if !t.IsKnown() {
		return 0, &ValidationError{Type: t, Reason: UnsupportedMsg, Got: len(buf)}
	}

	expected, ok := expectedLength(buf, t)

	if t.IsServerOnly() {
		return expected, &ValidationError{Type: t, Reason: IllegalMsg, Expected: expected, Got: len(buf)}
	}

	if !ok || len(buf) != expected {
		return expected, &ValidationError{Type: t, Reason: BadLen, Expected: expected, Got: len(buf)}
	}

	return expected, nil
}

// ParseRegisterClient decodes a validated REGISTER_CLIENT datagram.
// Exactly the declared number of name bytes is read.
func ParseRegisterClient(buf []byte) (*RegisterClientPayload, error) {
	if len(buf) < RegisterClientMinSize {
		return nil, fmt.Errorf("register packet too short: expected at least %d bytes, got %d",
			RegisterClientMinSize, len(buf))
	}

	nameLen := int(buf[HeaderSize])
	if nameLen > MaxNameLength {
		return nil, fmt.Errorf("name too long: %d bytes (maximum %d)", nameLen, MaxNameLength)
	}

	end := RegisterClientMinSize + nameLen
	if len(buf) < end {
		return nil, fmt.Errorf("register packet truncated: name needs %d bytes, got %d",
			nameLen, len(buf)-RegisterClientMinSize)
	}

	return &RegisterClientPayload{Name: string(buf[RegisterClientMinSize:end])}, nil
}

// ParsePlayerID decodes the player id that follows the header of
// PING, CLIENT_ACK, DISCONNECT, LIST_ROOMS, GAME_INPUT, REG_ACK and
// UPDATE_CLIENT_STATE datagrams
func ParsePlayerID(buf []byte) (uint32, error) {
	if len(buf) < HeaderSize+PlayerIDSize {
		return 0, fmt.Errorf("packet too short for player id: expected at least %d bytes, got %d",
			HeaderSize+PlayerIDSize, len(buf))
	}
	return binary.BigEndian.Uint32(buf[HeaderSize : HeaderSize+PlayerIDSize]), nil
}

// ParseJoinRoom decodes a validated JOIN_ROOM datagram
func ParseJoinRoom(buf []byte) (*JoinRoomPayload, error) {
	if len(buf) < JoinRoomSize {
		return nil, fmt.Errorf("join room packet too short: expected %d bytes, got %d", JoinRoomSize, len(buf))
	}
	return &JoinRoomPayload{
		PlayerID: binary.BigEndian.Uint32(buf[1:5]),
		RoomID:   binary.BigEndian.Uint32(buf[5:9]),
	}, nil
}

// ParseStateUpdate decodes an UPDATE_CLIENT_STATE datagram
func ParseStateUpdate(buf []byte) (*StateUpdatePayload, error) {
	if len(buf) < UpdateClientStateSize {
		return nil, fmt.Errorf("state update packet too short: expected %d bytes, got %d",
			UpdateClientStateSize, len(buf))
	}
	return &StateUpdatePayload{
		PlayerID: binary.BigEndian.Uint32(buf[1:5]),
		State:    buf[5],
	}, nil
}

// ParseRegAck decodes a REG_ACK datagram and returns the assigned player id
func ParseRegAck(buf []byte) (uint32, error) {
	if len(buf) != RegAckSize || MsgType(buf[0]) != RegAck {
		return 0, fmt.Errorf("not a registration ack: %d bytes", len(buf))
	}
	return binary.BigEndian.Uint32(buf[HeaderSize:]), nil
}

// ParseError decodes an ERR_PACKET datagram
func ParseError(buf []byte) (ErrCode, error) {
	if len(buf) != ErrPacketSize || MsgType(buf[0]) != ErrPacket {
		return 0, fmt.Errorf("not an error packet: %d bytes", len(buf))
	}
	return ErrCode(buf[1]), nil
}

// ParseKick decodes a KICK_CLIENT datagram and returns the reason
func ParseKick(buf []byte) (string, error) {
	if len(buf) < KickClientMinSize || MsgType(buf[0]) != KickClient {
		return "", fmt.Errorf("not a kick packet: %d bytes", len(buf))
	}
	reasonLen := int(buf[HeaderSize])
	if len(buf) != KickClientMinSize+reasonLen {
		return "", fmt.Errorf("kick reason length mismatch: declared %d, got %d",
			reasonLen, len(buf)-KickClientMinSize)
	}
	return string(buf[KickClientMinSize:]), nil
}

// NewErrorPacket builds an ERR_PACKET carrying only the reason code
func NewErrorPacket(reason ErrCode) []byte {
	return []byte{byte(ErrPacket), byte(reason)}
}

// NewRegAck builds a REG_ACK carrying the assigned player id in network byte order
func NewRegAck(playerID uint32) []byte {
	buf := make([]byte, RegAckSize)
	buf[0] = byte(RegAck)
	binary.BigEndian.PutUint32(buf[1:], playerID)
	return buf
}

// NewKick builds a KICK_CLIENT with a human-readable reason, truncated to MaxReasonLength
func NewKick(reason string) []byte {
	if len(reason) > MaxReasonLength {
		reason = reason[:MaxReasonLength]
	}
	buf := make([]byte, KickClientMinSize+len(reason))
	buf[0] = byte(KickClient)
	buf[1] = byte(len(reason))
	copy(buf[KickClientMinSize:], reason)
	return buf
}

// NewStateUpdate builds an UPDATE_CLIENT_STATE for the given player
func NewStateUpdate(playerID uint32, state uint8) []byte {
	buf := make([]byte, UpdateClientStateSize)
	buf[0] = byte(UpdateClientState)
	binary.BigEndian.PutUint32(buf[1:5], playerID)
	buf[5] = state
	return buf
}

// NewPing builds a PING for the given player; the server echoes it as a keepalive reply
func NewPing(playerID uint32) []byte {
	buf := make([]byte, PingSize)
	buf[0] = byte(Ping)
	binary.BigEndian.PutUint32(buf[1:], playerID)
	return buf
}

// NewRegisterClient builds a REGISTER_CLIENT datagram. Clients and tests use it.
func NewRegisterClient(name string) ([]byte, error) {
	if len(name) > MaxNameLength {
		return nil, fmt.Errorf("name too long: %d bytes (maximum %d)", len(name), MaxNameLength)
	}
	buf := make([]byte, RegisterClientMinSize+len(name))
	buf[0] = byte(RegisterClient)
	buf[1] = byte(len(name))
	copy(buf[RegisterClientMinSize:], name)
	return buf, nil
}

// NewPlayerMessage builds one of the fixed-size messages that carry only a player id
func NewPlayerMessage(t MsgType, playerID uint32) []byte {
	buf := make([]byte, HeaderSize+PlayerIDSize)
	buf[0] = byte(t)
	binary.BigEndian.PutUint32(buf[1:], playerID)
	return buf
}

// NewJoinRoom builds a JOIN_ROOM datagram
func NewJoinRoom(playerID, roomID uint32) []byte {
	buf := make([]byte, JoinRoomSize)
	buf[0] = byte(JoinRoom)
	binary.BigEndian.PutUint32(buf[1:5], playerID)
	binary.BigEndian.PutUint32(buf[5:9], roomID)
	return buf
}

package protocol

import (
	"errors"
	"fmt"
)

// Sentinel errors matched by ValidationError.Is
var (
	ErrBadLength          = errors.New("bad packet length")
	ErrIllegalMessage     = errors.New("illegal message from client")
	ErrUnsupportedMessage = errors.New("unsupported message type")
)

// ValidationError describes why a datagram was rejected by Validate
type ValidationError struct {
	Type     MsgType
	Reason   ErrCode
	Expected int
	Got      int
}

func (e *ValidationError) Error() string {
	switch e.Reason {
	case BadLen:
		return fmt.Sprintf("%s: bad length: expected %d bytes, got %d", e.Type, e.Expected, e.Got)
	case IllegalMsg:
		return fmt.Sprintf("%s: illegal message from client", e.Type)
	default:
		return fmt.Sprintf("%s: unsupported message type", e.Type)
	}
}

// Is lets errors.Is match the sentinel for the rejection reason
func (e *ValidationError) Is(target error) bool {
	switch target {
	case ErrBadLength:
		return e.Reason == BadLen
	case ErrIllegalMessage:
		return e.Reason == IllegalMsg
	case ErrUnsupportedMessage:
		return e.Reason == UnsupportedMsg
	}
	return false
}

// ReasonOf returns the ERR_PACKET code for a Validate error
func ReasonOf(err error) (ErrCode, bool) {
	var verr *ValidationError
	if errors.As(err, &verr) {
		return verr.Reason, true
	}
	return 0, false
}

package moqt

import (
	"errors"
	"fmt"

	"github.com/zsiec/moqt/quic"
)

// Sentinel errors returned by the session and the track multiplexer.
var (
	ErrInvalidPath         = errors.New("moqt: broadcast path must start with \"/\"")
	ErrDuplicatedPath      = errors.New("moqt: broadcast path already published")
	ErrClosedTrack         = errors.New("moqt: track closed")
	ErrClosedAnnouncements = errors.New("moqt: announce stream closed")
	ErrInvalidStream       = errors.New("moqt: unknown stream type")
)

// SessionErrorCode is carried by a connection close or a session stream
// reset.
type SessionErrorCode quic.ConnErrorCode

const (
	NoError                          SessionErrorCode = 0x00
	InternalSessionErrorCode         SessionErrorCode = 0x01
	UnauthorizedSessionErrorCode     SessionErrorCode = 0x02
	ProtocolViolationErrorCode       SessionErrorCode = 0x03
	ParameterLengthMismatchErrorCode SessionErrorCode = 0x05
	TooManySubscribeErrorCode        SessionErrorCode = 0x06
	GoAwayTimeoutErrorCode           SessionErrorCode = 0x10
	UnsupportedVersionErrorCode      SessionErrorCode = 0x12
	SetupFailedErrorCode             SessionErrorCode = 0x13
)

func (c SessionErrorCode) String() string {
	switch c {
	case NoError:
		return "no error"
	case InternalSessionErrorCode:
		return "internal error"
	case UnauthorizedSessionErrorCode:
		return "unauthorized"
	case ProtocolViolationErrorCode:
		return "protocol violation"
	case ParameterLengthMismatchErrorCode:
		return "parameter length mismatch"
	case TooManySubscribeErrorCode:
		return "too many subscribes"
	case GoAwayTimeoutErrorCode:
		return "goaway timeout"
	case UnsupportedVersionErrorCode:
		return "unsupported version"
	case SetupFailedErrorCode:
		return "setup failed"
	}
	return fmt.Sprintf("session error %#x", uint64(c))
}

// AnnounceErrorCode aborts an announce stream.
type AnnounceErrorCode quic.StreamErrorCode

const (
	InternalAnnounceErrorCode      AnnounceErrorCode = 0x00
	DuplicatedAnnounceErrorCode    AnnounceErrorCode = 0x01
	InvalidAnnounceStatusErrorCode AnnounceErrorCode = 0x02
	UninterestedErrorCode          AnnounceErrorCode = 0x03
	BannedPrefixErrorCode          AnnounceErrorCode = 0x04
	InvalidPrefixErrorCode         AnnounceErrorCode = 0x05
)

func (c AnnounceErrorCode) String() string {
	switch c {
	case InternalAnnounceErrorCode:
		return "internal error"
	case DuplicatedAnnounceErrorCode:
		return "duplicated announce"
	case InvalidAnnounceStatusErrorCode:
		return "invalid announce status"
	case UninterestedErrorCode:
		return "uninterested"
	case BannedPrefixErrorCode:
		return "banned prefix"
	case InvalidPrefixErrorCode:
		return "invalid prefix"
	}
	return fmt.Sprintf("announce error %#x", uint64(c))
}

// SubscribeErrorCode aborts a subscribe stream.
type SubscribeErrorCode quic.StreamErrorCode

const (
	InternalSubscribeErrorCode     SubscribeErrorCode = 0x00
	InvalidRangeErrorCode          SubscribeErrorCode = 0x01
	DuplicateSubscribeIDErrorCode  SubscribeErrorCode = 0x02
	TrackNotFoundErrorCode         SubscribeErrorCode = 0x03
	UnauthorizedSubscribeErrorCode SubscribeErrorCode = 0x04
	SubscribeTimeoutErrorCode      SubscribeErrorCode = 0x05
)

func (c SubscribeErrorCode) String() string {
	switch c {
	case InternalSubscribeErrorCode:
		return "internal error"
	case InvalidRangeErrorCode:
		return "invalid range"
	case DuplicateSubscribeIDErrorCode:
		return "duplicate subscribe id"
	case TrackNotFoundErrorCode:
		return "track not found"
	case UnauthorizedSubscribeErrorCode:
		return "unauthorized"
	case SubscribeTimeoutErrorCode:
		return "timeout"
	}
	return fmt.Sprintf("subscribe error %#x", uint64(c))
}

// GroupErrorCode aborts a group stream.
type GroupErrorCode quic.StreamErrorCode

const (
	InternalGroupErrorCode      GroupErrorCode = 0x00
	OutOfRangeErrorCode         GroupErrorCode = 0x02
	ExpiredGroupErrorCode       GroupErrorCode = 0x03
	SubscribeCanceledErrorCode  GroupErrorCode = 0x04
	PublishAbortedErrorCode     GroupErrorCode = 0x05
	ClosedSessionGroupErrorCode GroupErrorCode = 0x06
	InvalidSubscribeIDErrorCode GroupErrorCode = 0x07
)

func (c GroupErrorCode) String() string {
	switch c {
	case InternalGroupErrorCode:
		return "internal error"
	case OutOfRangeErrorCode:
		return "out of range"
	case ExpiredGroupErrorCode:
		return "expired group"
	case SubscribeCanceledErrorCode:
		return "subscribe canceled"
	case PublishAbortedErrorCode:
		return "publish aborted"
	case ClosedSessionGroupErrorCode:
		return "closed session"
	case InvalidSubscribeIDErrorCode:
		return "invalid subscribe id"
	}
	return fmt.Sprintf("group error %#x", uint64(c))
}

// SessionError reports why a session ended.
type SessionError struct {
	Code    SessionErrorCode
	Message string
	remote  bool
}

func (e *SessionError) Error() string {
	if e.Message == "" {
		return "moqt: session: " + e.Code.String()
	}
	return fmt.Sprintf("moqt: session: %s: %s", e.Code, e.Message)
}

// Remote reports whether the peer closed the session.
func (e *SessionError) Remote() bool { return e.remote }

// AnnounceError reports an aborted announce stream.
type AnnounceError struct {
	Code   AnnounceErrorCode
	remote bool
}

func (e *AnnounceError) Error() string { return "moqt: announce: " + e.Code.String() }

// Remote reports whether the peer aborted the stream.
func (e *AnnounceError) Remote() bool { return e.remote }

// SubscribeError reports a rejected or aborted subscription.
type SubscribeError struct {
	Code   SubscribeErrorCode
	remote bool
}

func (e *SubscribeError) Error() string { return "moqt: subscribe: " + e.Code.String() }

// Remote reports whether the peer aborted the stream.
func (e *SubscribeError) Remote() bool { return e.remote }

// GroupError reports an aborted group stream.
type GroupError struct {
	Code   GroupErrorCode
	remote bool
}

func (e *GroupError) Error() string { return "moqt: group: " + e.Code.String() }

// Remote reports whether the peer aborted the stream.
func (e *GroupError) Remote() bool { return e.remote }

// sessionErrorFrom maps a transport close onto *SessionError. Other errors
// are returned unchanged.
func sessionErrorFrom(err error) error {
	var ce *quic.ConnError
	if errors.As(err, &ce) {
		return &SessionError{Code: SessionErrorCode(ce.Code), Message: ce.Message, remote: ce.Remote}
	}
	return err
}

// sessionStreamErrorFrom also maps an aborted session stream onto
// *SessionError.
func sessionStreamErrorFrom(err error) error {
	var se *quic.StreamError
	if errors.As(err, &se) {
		return &SessionError{Code: SessionErrorCode(se.Code), remote: se.Remote}
	}
	return sessionErrorFrom(err)
}

func announceErrorFrom(err error) error {
	var se *quic.StreamError
	if errors.As(err, &se) {
		return &AnnounceError{Code: AnnounceErrorCode(se.Code), remote: se.Remote}
	}
	return sessionErrorFrom(err)
}

func subscribeErrorFrom(err error) error {
	var se *quic.StreamError
	if errors.As(err, &se) {
		return &SubscribeError{Code: SubscribeErrorCode(se.Code), remote: se.Remote}
	}
	return sessionErrorFrom(err)
}

func groupErrorFrom(err error) error {
	var se *quic.StreamError
	if errors.As(err, &se) {
		return &GroupError{Code: GroupErrorCode(se.Code), remote: se.Remote}
	}
	return sessionErrorFrom(err)
}

package moqt

import "fmt"

// streamType is the first byte written on every stream.
type streamType byte

// Bidirectional stream types.
const (
	sessionStreamType   streamType = 0x00
	announceStreamType  streamType = 0x01
	subscribeStreamType streamType = 0x02
)

// Unidirectional stream types.
const (
	groupStreamType streamType = 0x00
)

func (t streamType) bidiString() string {
	switch t {
	case sessionStreamType:
		return "session"
	case announceStreamType:
		return "announce"
	case subscribeStreamType:
		return "subscribe"
	}
	return fmt.Sprintf("unknown(%#x)", byte(t))
}

func mustBidi(t streamType) {
	switch t {
	case sessionStreamType, announceStreamType, subscribeStreamType:
		return
	}
	panic(fmt.Sprintf("moqt: invalid bidirectional stream type %#x", byte(t)))
}

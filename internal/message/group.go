package message

import (
	"io"

	"github.com/zsiec/moqt/internal/varint"
	"github.com/zsiec/moqt/internal/wire"
)

// GroupMessage is the header of a group stream.
type GroupMessage struct {
	SubscribeID uint64
	Sequence    uint64
}

func (m *GroupMessage) Len() int {
	return varint.Len(m.SubscribeID) + varint.Len(m.Sequence)
}

func (m *GroupMessage) Encode(w *wire.Writer) error {
	w.WriteVarint(uint64(m.Len()))
	w.WriteVarint(m.SubscribeID)
	w.WriteVarint(m.Sequence)
	return w.Flush()
}

func (m *GroupMessage) Decode(r *wire.Reader) error {
	h, err := readHeader(r, "GROUP")
	if err != nil {
		return err
	}
	if m.SubscribeID, err = r.ReadVarint(); err != nil {
		return h.fail("subscribe_id", err)
	}
	if m.Sequence, err = r.ReadVarint(); err != nil {
		return h.fail("sequence", err)
	}
	return h.done(r)
}

// FrameMessage carries one opaque payload. The length prefix is the payload
// size, so the payload follows it directly.
type FrameMessage struct {
	Data []byte
}

func (m *FrameMessage) Len() int {
	return len(m.Data)
}

func (m *FrameMessage) Encode(w *wire.Writer) error {
	w.WriteBytes(m.Data)
	return w.Flush()
}

// Decode reads one frame. A stream that ends cleanly before the next frame
// returns io.EOF.
func (m *FrameMessage) Decode(r *wire.Reader) error {
	data, err := r.ReadBytes()
	if err != nil {
		if err == io.EOF {
			return err
		}
		return &ParseError{Message: "FRAME", Field: "data", Err: err}
	}
	m.Data = data
	return nil
}

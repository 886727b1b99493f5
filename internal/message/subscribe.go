package message

import (
	"github.com/zsiec/moqt/internal/varint"
	"github.com/zsiec/moqt/internal/wire"
)

// SubscribeMessage requests a track. A zero MaxGroupSequence means no upper
// bound.
type SubscribeMessage struct {
	SubscribeID      uint64
	BroadcastPath    string
	TrackName        string
	TrackPriority    uint8
	MinGroupSequence uint64
	MaxGroupSequence uint64
}

func (m *SubscribeMessage) Len() int {
	return varint.Len(m.SubscribeID) +
		varint.StringLen(m.BroadcastPath) +
		varint.StringLen(m.TrackName) +
		1 +
		varint.Len(m.MinGroupSequence) +
		varint.Len(m.MaxGroupSequence)
}

func (m *SubscribeMessage) Encode(w *wire.Writer) error {
	w.WriteVarint(uint64(m.Len()))
	w.WriteVarint(m.SubscribeID)
	w.WriteString(m.BroadcastPath)
	w.WriteString(m.TrackName)
	w.WriteUint8(m.TrackPriority)
	w.WriteVarint(m.MinGroupSequence)
	w.WriteVarint(m.MaxGroupSequence)
	return w.Flush()
}

func (m *SubscribeMessage) Decode(r *wire.Reader) error {
	h, err := readHeader(r, "SUBSCRIBE")
	if err != nil {
		return err
	}
	if m.SubscribeID, err = r.ReadVarint(); err != nil {
		return h.fail("subscribe_id", err)
	}
	if m.BroadcastPath, err = r.ReadString(); err != nil {
		return h.fail("broadcast_path", err)
	}
	if m.TrackName, err = r.ReadString(); err != nil {
		return h.fail("track_name", err)
	}
	if m.TrackPriority, err = r.ReadUint8(); err != nil {
		return h.fail("track_priority", err)
	}
	if m.MinGroupSequence, err = r.ReadVarint(); err != nil {
		return h.fail("min_group_sequence", err)
	}
	if m.MaxGroupSequence, err = r.ReadVarint(); err != nil {
		return h.fail("max_group_sequence", err)
	}
	return h.done(r)
}

// SubscribeOkMessage accepts a subscription. It has no fields.
type SubscribeOkMessage struct{}

func (m *SubscribeOkMessage) Len() int { return 0 }

func (m *SubscribeOkMessage) Encode(w *wire.Writer) error {
	w.WriteVarint(0)
	return w.Flush()
}

func (m *SubscribeOkMessage) Decode(r *wire.Reader) error {
	h, err := readHeader(r, "SUBSCRIBE_OK")
	if err != nil {
		return err
	}
	return h.done(r)
}

// SubscribeUpdateMessage changes the priority or range of a live
// subscription.
type SubscribeUpdateMessage struct {
	TrackPriority    uint8
	MinGroupSequence uint64
	MaxGroupSequence uint64
}

func (m *SubscribeUpdateMessage) Len() int {
	return 1 + varint.Len(m.MinGroupSequence) + varint.Len(m.MaxGroupSequence)
}

func (m *SubscribeUpdateMessage) Encode(w *wire.Writer) error {
	w.WriteVarint(uint64(m.Len()))
	w.WriteUint8(m.TrackPriority)
	w.WriteVarint(m.MinGroupSequence)
	w.WriteVarint(m.MaxGroupSequence)
	return w.Flush()
}

func (m *SubscribeUpdateMessage) Decode(r *wire.Reader) error {
	h, err := readHeader(r, "SUBSCRIBE_UPDATE")
	if err != nil {
		return err
	}
	if m.TrackPriority, err = r.ReadUint8(); err != nil {
		return h.fail("track_priority", err)
	}
	if m.MinGroupSequence, err = r.ReadVarint(); err != nil {
		return h.fail("min_group_sequence", err)
	}
	if m.MaxGroupSequence, err = r.ReadVarint(); err != nil {
		return h.fail("max_group_sequence", err)
	}
	return h.done(r)
}

package message

import (
	"github.com/zsiec/moqt/internal/varint"
	"github.com/zsiec/moqt/internal/wire"
)

// AnnouncePleaseMessage opens an announce stream for every broadcast path
// under TrackPrefix.
type AnnouncePleaseMessage struct {
	TrackPrefix string
}

func (m *AnnouncePleaseMessage) Len() int {
	return varint.StringLen(m.TrackPrefix)
}

func (m *AnnouncePleaseMessage) Encode(w *wire.Writer) error {
	w.WriteVarint(uint64(m.Len()))
	w.WriteString(m.TrackPrefix)
	return w.Flush()
}

func (m *AnnouncePleaseMessage) Decode(r *wire.Reader) error {
	h, err := readHeader(r, "ANNOUNCE_PLEASE")
	if err != nil {
		return err
	}
	if m.TrackPrefix, err = r.ReadString(); err != nil {
		return h.fail("track_prefix", err)
	}
	return h.done(r)
}

// AnnounceInitMessage lists the suffixes, relative to the requested prefix,
// of the broadcast paths active when the announce stream was opened.
type AnnounceInitMessage struct {
	Suffixes []string
}

func (m *AnnounceInitMessage) Len() int {
	return stringArrayLen(m.Suffixes)
}

func (m *AnnounceInitMessage) Encode(w *wire.Writer) error {
	w.WriteVarint(uint64(m.Len()))
	w.WriteStringArray(m.Suffixes)
	return w.Flush()
}

func (m *AnnounceInitMessage) Decode(r *wire.Reader) error {
	h, err := readHeader(r, "ANNOUNCE_INIT")
	if err != nil {
		return err
	}
	if m.Suffixes, err = r.ReadStringArray(); err != nil {
		return h.fail("suffixes", err)
	}
	return h.done(r)
}

// AnnounceStatus says whether a broadcast path became active or ended.
type AnnounceStatus byte

const (
	Ended  AnnounceStatus = 0x0
	Active AnnounceStatus = 0x1
)

func (s AnnounceStatus) String() string {
	switch s {
	case Ended:
		return "ended"
	case Active:
		return "active"
	}
	return "unknown"
}

// AnnounceMessage is one change after the initial list.
type AnnounceMessage struct {
	Status              AnnounceStatus
	BroadcastPathSuffix string
}

func (m *AnnounceMessage) Len() int {
	return 1 + varint.StringLen(m.BroadcastPathSuffix)
}

func (m *AnnounceMessage) Encode(w *wire.Writer) error {
	w.WriteVarint(uint64(m.Len()))
	w.WriteUint8(byte(m.Status))
	w.WriteString(m.BroadcastPathSuffix)
	return w.Flush()
}

func (m *AnnounceMessage) Decode(r *wire.Reader) error {
	h, err := readHeader(r, "ANNOUNCE")
	if err != nil {
		return err
	}
	status, err := r.ReadUint8()
	if err != nil {
		return h.fail("status", err)
	}
	m.Status = AnnounceStatus(status)
	if m.Status != Active && m.Status != Ended {
		return h.fail("status", ErrInvalidStatus)
	}
	if m.BroadcastPathSuffix, err = r.ReadString(); err != nil {
		return h.fail("broadcast_path_suffix", err)
	}
	return h.done(r)
}

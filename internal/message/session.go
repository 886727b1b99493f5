package message

import (
	"github.com/zsiec/moqt/internal/varint"
	"github.com/zsiec/moqt/internal/wire"
)

// SessionClientMessage opens the session stream. The client lists the
// protocol versions it supports in preference order.
type SessionClientMessage struct {
	SupportedVersions []uint64
	Extensions        Extensions
}

func (m *SessionClientMessage) Len() int {
	n := varint.Len(uint64(len(m.SupportedVersions)))
	for _, v := range m.SupportedVersions {
		n += varint.Len(v)
	}
	return n + m.Extensions.Len()
}

func (m *SessionClientMessage) Encode(w *wire.Writer) error {
	w.WriteVarint(uint64(m.Len()))
	w.WriteVarint(uint64(len(m.SupportedVersions)))
	for _, v := range m.SupportedVersions {
		w.WriteVarint(v)
	}
	m.Extensions.encode(w)
	return w.Flush()
}

func (m *SessionClientMessage) Decode(r *wire.Reader) error {
	h, err := readHeader(r, "SESSION_CLIENT")
	if err != nil {
		return err
	}
	count, err := r.ReadVarint()
	if err != nil {
		return h.fail("num_versions", err)
	}
	if count > MaxExtensions {
		return h.fail("num_versions", ErrTooManyEntries)
	}
	m.SupportedVersions = make([]uint64, 0, count)
	for i := uint64(0); i < count; i++ {
		v, err := r.ReadVarint()
		if err != nil {
			return h.fail("version", err)
		}
		m.SupportedVersions = append(m.SupportedVersions, v)
	}
	if m.Extensions, err = decodeExtensions(r); err != nil {
		return h.fail("extensions", err)
	}
	return h.done(r)
}

// SessionServerMessage answers SessionClientMessage with the chosen version.
type SessionServerMessage struct {
	SelectedVersion uint64
	Extensions      Extensions
}

func (m *SessionServerMessage) Len() int {
	return varint.Len(m.SelectedVersion) + m.Extensions.Len()
}

func (m *SessionServerMessage) Encode(w *wire.Writer) error {
	w.WriteVarint(uint64(m.Len()))
	w.WriteVarint(m.SelectedVersion)
	m.Extensions.encode(w)
	return w.Flush()
}

func (m *SessionServerMessage) Decode(r *wire.Reader) error {
	h, err := readHeader(r, "SESSION_SERVER")
	if err != nil {
		return err
	}
	if m.SelectedVersion, err = r.ReadVarint(); err != nil {
		return h.fail("selected_version", err)
	}
	if m.Extensions, err = decodeExtensions(r); err != nil {
		return h.fail("extensions", err)
	}
	return h.done(r)
}

// SessionUpdateMessage carries a bitrate estimate in bits per second. Either
// side may send it at any time after setup.
type SessionUpdateMessage struct {
	Bitrate uint64
}

func (m *SessionUpdateMessage) Len() int {
	return varint.Len(m.Bitrate)
}

func (m *SessionUpdateMessage) Encode(w *wire.Writer) error {
	w.WriteVarint(uint64(m.Len()))
	w.WriteVarint(m.Bitrate)
	return w.Flush()
}

func (m *SessionUpdateMessage) Decode(r *wire.Reader) error {
	h, err := readHeader(r, "SESSION_UPDATE")
	if err != nil {
		return err
	}
	if m.Bitrate, err = r.ReadVarint(); err != nil {
		return h.fail("bitrate", err)
	}
	return h.done(r)
}

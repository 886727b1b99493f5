package message

import (
	"bytes"
	"errors"
	"io"
	"reflect"
	"slices"
	"testing"

	"github.com/zsiec/moqt/internal/varint"
	"github.com/zsiec/moqt/internal/wire"
)

// encode returns the bytes produced by m.Encode and checks that the length
// prefix equals m.Len().
func encode(t *testing.T, m Message) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := wire.NewWriter(&buf, nil)
	if err := m.Encode(w); err != nil {
		t.Fatal(err)
	}
	b := buf.Bytes()
	length, n, err := varint.Parse(b)
	if err != nil {
		t.Fatal(err)
	}
	if int(length) != m.Len() {
		t.Fatalf("%T: prefix = %d, Len() = %d", m, length, m.Len())
	}
	if len(b)-n != m.Len() {
		t.Fatalf("%T: payload = %d bytes, Len() = %d", m, len(b)-n, m.Len())
	}
	return b
}

func decode(t *testing.T, b []byte, m Message) {
	t.Helper()
	r := wire.NewReader(bytes.NewReader(b), nil)
	if err := m.Decode(r); err != nil {
		t.Fatalf("%T: decode: %v", m, err)
	}
	if r.Consumed() != int64(len(b)) {
		t.Fatalf("%T: consumed %d of %d bytes", m, r.Consumed(), len(b))
	}
}

func TestSessionUpdateScenario(t *testing.T) {
	t.Parallel()
	b := encode(t, &SessionUpdateMessage{Bitrate: 123})
	var got SessionUpdateMessage
	decode(t, b, &got)
	if got.Bitrate != 123 {
		t.Fatalf("bitrate = %d, want 123", got.Bitrate)
	}
}

func TestGroupScenario(t *testing.T) {
	t.Parallel()
	b := encode(t, &GroupMessage{SubscribeID: 1, Sequence: 42})
	var got GroupMessage
	decode(t, b, &got)
	if got.SubscribeID != 1 || got.Sequence != 42 {
		t.Fatalf("group = %+v, want {1 42}", got)
	}
}

func TestAnnounceInitScenario(t *testing.T) {
	t.Parallel()
	b := encode(t, &AnnounceInitMessage{Suffixes: []string{"/a", "/b"}})
	var got AnnounceInitMessage
	decode(t, b, &got)
	if !slices.Equal(got.Suffixes, []string{"/a", "/b"}) {
		t.Fatalf("suffixes = %v, want [/a /b]", got.Suffixes)
	}

	b = encode(t, &AnnounceInitMessage{})
	decode(t, b, &got)
	if len(got.Suffixes) != 0 {
		t.Fatalf("suffixes = %v, want empty", got.Suffixes)
	}
}

func TestRoundTrip(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in, out Message
	}{
		{
			&SessionClientMessage{
				SupportedVersions: []uint64{0xffffff00, 1},
				Extensions:        Extensions{2: []byte("path"), 1: {}},
			},
			&SessionClientMessage{},
		},
		{&SessionServerMessage{SelectedVersion: 0xffffff00}, &SessionServerMessage{}},
		{&AnnouncePleaseMessage{TrackPrefix: "/live"}, &AnnouncePleaseMessage{}},
		{&AnnounceMessage{Status: Active, BroadcastPathSuffix: "/cam1"}, &AnnounceMessage{}},
		{&AnnounceMessage{Status: Ended, BroadcastPathSuffix: ""}, &AnnounceMessage{}},
		{
			&SubscribeMessage{
				SubscribeID:      7,
				BroadcastPath:    "/live/cam1",
				TrackName:        "video",
				TrackPriority:    3,
				MinGroupSequence: 100,
				MaxGroupSequence: varint.Max,
			},
			&SubscribeMessage{},
		},
		{&SubscribeOkMessage{}, &SubscribeOkMessage{}},
		{&SubscribeUpdateMessage{TrackPriority: 1, MinGroupSequence: 5}, &SubscribeUpdateMessage{}},
		{&FrameMessage{Data: []byte("payload")}, &FrameMessage{}},
	}
	for _, tt := range tests {
		decode(t, encode(t, tt.in), tt.out)
		if !reflect.DeepEqual(tt.in, tt.out) {
			t.Fatalf("%T: got %+v, want %+v", tt.in, tt.out, tt.in)
		}
	}
}

func TestFrameSequenceEndsWithEOF(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	w := wire.NewWriter(&buf, nil)
	for _, f := range []string{"a", "", "ccc"} {
		if err := (&FrameMessage{Data: []byte(f)}).Encode(w); err != nil {
			t.Fatal(err)
		}
	}

	r := wire.NewReader(&buf, nil)
	var got []string
	for {
		var f FrameMessage
		err := f.Decode(r)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		got = append(got, string(f.Data))
	}
	if !slices.Equal(got, []string{"a", "", "ccc"}) {
		t.Fatalf("frames = %q", got)
	}
}

func TestDecodeLengthMismatch(t *testing.T) {
	t.Parallel()
	// Declares 3 bytes but the bitrate varint is one byte.
	b := []byte{3, 5, 0, 0}
	var m SessionUpdateMessage
	err := m.Decode(wire.NewReader(bytes.NewReader(b), nil))
	if !errors.Is(err, ErrLengthMismatch) {
		t.Fatalf("err = %v, want ErrLengthMismatch", err)
	}
}

func TestDecodeTruncated(t *testing.T) {
	t.Parallel()
	b := encode(t, &SubscribeMessage{SubscribeID: 1, BroadcastPath: "/a", TrackName: "t"})
	var m SubscribeMessage
	err := m.Decode(wire.NewReader(bytes.NewReader(b[:len(b)-2]), nil))
	var pe *ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("err = %v, want *ParseError", err)
	}
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("err = %v, want io.ErrUnexpectedEOF", err)
	}
}

func TestDecodeEmptyStream(t *testing.T) {
	t.Parallel()
	var m GroupMessage
	if err := m.Decode(wire.NewReader(bytes.NewReader(nil), nil)); !errors.Is(err, io.EOF) {
		t.Fatalf("err = %v, want io.EOF", err)
	}
}

func TestDecodeRejectsHugeExtensionCount(t *testing.T) {
	t.Parallel()
	var payload []byte
	payload = varint.Append(payload, 1) // selected version
	payload = varint.Append(payload, MaxExtensions+1)
	b := varint.Append(nil, uint64(len(payload)))
	b = append(b, payload...)

	var m SessionServerMessage
	err := m.Decode(wire.NewReader(bytes.NewReader(b), nil))
	if !errors.Is(err, ErrTooManyEntries) {
		t.Fatalf("err = %v, want ErrTooManyEntries", err)
	}
}

func TestDecodeRejectsUnknownAnnounceStatus(t *testing.T) {
	t.Parallel()
	b := []byte{2, 9, 0}
	var m AnnounceMessage
	err := m.Decode(wire.NewReader(bytes.NewReader(b), nil))
	if !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("err = %v, want ErrInvalidStatus", err)
	}
}

func TestExtensionsEncodeInIDOrder(t *testing.T) {
	t.Parallel()
	a := encode(t, &SessionServerMessage{Extensions: Extensions{9: {1}, 1: {2}, 4: {3}}})
	b := encode(t, &SessionServerMessage{Extensions: Extensions{4: {3}, 9: {1}, 1: {2}}})
	if !bytes.Equal(a, b) {
		t.Fatalf("extension encoding is not deterministic: %x vs %x", a, b)
	}
}

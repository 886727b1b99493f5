// Package message implements the moqt wire messages. Every message is a
// varint length prefix followed by its fields in a fixed order; Len reports
// the exact payload size that goes into the prefix.
//
// Decoding checks that the fields consumed exactly the declared length, so
// a peer that pads or truncates a message is detected at the message
// boundary rather than later in the stream.
//
// This package contains no stream or session logic; that lives in
// [github.com/zsiec/moqt/moqt].
package message

// Package wire provides the buffered, pool-backed Reader and Writer that
// turn a byte stream into typed reads and writes: bytes, booleans, varints,
// length-prefixed strings and byte slices, and string arrays.
//
// Both types own a working buffer acquired from a [bufpool.Pool] and hand
// it back when they are closed or cancelled. Neither is safe for concurrent
// use; callers that share a stream serialize through a lock.
package wire

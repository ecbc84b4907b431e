// Package record defines the command record and its self-delimiting codec.
//
// A record is one of two variants, Set{key,value} or Remove{key}. Encoded
// records concatenate cleanly: decoding a stream in order recovers the
// original sequence and, for each record, the exact byte offset after it.
package record

import (
	"bufio"
	"encoding/binary"
	"io"

	"github.com/gtarraga/kvs/internal/engine/kvserr"
)

// Op tags which variant a Record holds.
type Op uint8

const (
	// Set stores Key and Value.
	Set Op = iota
	// Remove stores only Key; Value is always empty.
	Remove
)

// Record is a single command, either Set{Key,Value} or Remove{Key}.
type Record struct {
	Op    Op
	Key   string
	Value string
}

var enc = binary.BigEndian

// lenWidth is the width, in bytes, of each length prefix in the encoding.
// Keys and values are arbitrary UTF-8 strings so a length prefix (rather
// than a delimiter byte) is required to make the encoding self-delimiting.
const lenWidth = 4

// Encode serializes r as: [1-byte op][4-byte key len][key][4-byte value
// len][value]. Value is omitted (len 0) for Remove.
func Encode(r Record) []byte {
	key := []byte(r.Key)
	value := []byte(r.Value)
	if r.Op == Remove {
		value = nil
	}

	buf := make([]byte, 1+lenWidth+len(key)+lenWidth+len(value))
	buf[0] = byte(r.Op)
	enc.PutUint32(buf[1:1+lenWidth], uint32(len(key)))
	off := 1 + lenWidth
	copy(buf[off:off+len(key)], key)
	off += len(key)
	enc.PutUint32(buf[off:off+lenWidth], uint32(len(value)))
	off += lenWidth
	copy(buf[off:off+len(value)], value)

	return buf
}

// Decoded pairs a decoded Record with the stream offset immediately after
// it, so callers can build a Position from it.
type Decoded struct {
	Record Record
	End    int64
}

// DecodeStream reads records from r in order until EOF, calling fn for
// each. start is the stream offset of the first byte read from r. Any
// error decoding a non-empty prefix (a truncated length, a truncated key
// or value, an unrecognized op byte) is fatal and reported as
// kvserr.CorruptState — callers treat this as "unknown state" and refuse
// to proceed, per the codec's contract that corrupt tails cannot be
// silently skipped.
func DecodeStream(r io.Reader, start int64, fn func(Decoded) error) error {
	br := bufio.NewReader(r)
	pos := start

	for {
		header := make([]byte, 1+lenWidth)
		n, err := io.ReadFull(br, header)
		if err == io.EOF && n == 0 {
			return nil
		}
		if err != nil {
			return kvserr.Wrap(kvserr.CorruptState, "truncated record header", err)
		}

		op := Op(header[0])
		if op != Set && op != Remove {
			return kvserr.New(kvserr.CorruptState, "unrecognized record op")
		}
		keyLen := enc.Uint32(header[1:])

		key := make([]byte, keyLen)
		if _, err := io.ReadFull(br, key); err != nil {
			return kvserr.Wrap(kvserr.CorruptState, "truncated record key", err)
		}

		read := int64(len(header) + len(key))

		var value []byte
		if op == Set {
			valHeader := make([]byte, lenWidth)
			if _, err := io.ReadFull(br, valHeader); err != nil {
				return kvserr.Wrap(kvserr.CorruptState, "truncated record value length", err)
			}
			valLen := enc.Uint32(valHeader)
			value = make([]byte, valLen)
			if _, err := io.ReadFull(br, value); err != nil {
				return kvserr.Wrap(kvserr.CorruptState, "truncated record value", err)
			}
			read += int64(len(valHeader) + len(value))
		} else {
			// Remove records still carry a zero-length value length prefix.
			valHeader := make([]byte, lenWidth)
			if _, err := io.ReadFull(br, valHeader); err != nil {
				return kvserr.Wrap(kvserr.CorruptState, "truncated record value length", err)
			}
			read += int64(len(valHeader))
		}

		rec := Record{Op: op, Key: string(key), Value: string(value)}
		pos += read

		if err := fn(Decoded{Record: rec, End: pos}); err != nil {
			return err
		}
	}
}

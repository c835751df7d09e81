// Package hostbuf encodes message payloads in the host's length-prefixed
// buffer layout.
//
// A buffer is a 4-byte little-endian length followed by that many bytes. An
// array is a 4-byte little-endian count followed by that many buffers.
package hostbuf

import (
	"encoding/binary"
	"errors"
	"io"
	"math"
)

// ErrShortBuffer is returned when the input ends before the declared length.
var ErrShortBuffer = errors.New("hostbuf: short buffer")

// ErrTooLarge is returned when a payload does not fit a 32-bit length.
var ErrTooLarge = errors.New("hostbuf: payload too large")

const prefix = 4

// Encode returns payload as a host buffer.
func Encode(payload []byte) ([]byte, error) {
	if uint64(len(payload)) > math.MaxUint32 {
		return nil, ErrTooLarge
	}
	out := make([]byte, prefix+len(payload))
	binary.LittleEndian.PutUint32(out, uint32(len(payload)))
	copy(out[prefix:], payload)
	return out, nil
}

// Decode reads one host buffer from b and returns its payload and the bytes
// that follow it. The payload aliases b.
func Decode(b []byte) (payload, rest []byte, err error) {
	if len(b) < prefix {
		return nil, nil, ErrShortBuffer
	}
	n := binary.LittleEndian.Uint32(b)
	if uint64(len(b)-prefix) < uint64(n) {
		return nil, nil, ErrShortBuffer
	}
	end := prefix + int(n)
	return b[prefix:end], b[end:], nil
}

// EncodeArray returns parts as a host array of buffers.
func EncodeArray(parts [][]byte) ([]byte, error) {
	size := prefix
	for _, p := range parts {
		if uint64(len(p)) > math.MaxUint32 {
			return nil, ErrTooLarge
		}
		size += prefix + len(p)
	}
	out := make([]byte, prefix, size)
	binary.LittleEndian.PutUint32(out, uint32(len(parts)))
	for _, p := range parts {
		out = binary.LittleEndian.AppendUint32(out, uint32(len(p)))
		out = append(out, p...)
	}
	return out, nil
}

// DecodeArray reads a host array of buffers. The parts alias b.
func DecodeArray(b []byte) ([][]byte, error) {
	if len(b) < prefix {
		return nil, ErrShortBuffer
	}
	count := binary.LittleEndian.Uint32(b)
	b = b[prefix:]
	// every part needs at least its length prefix
	if uint64(count)*prefix > uint64(len(b)) {
		return nil, ErrShortBuffer
	}
	parts := make([][]byte, 0, count)
	for i := uint32(0); i < count; i++ {
		p, rest, err := Decode(b)
		if err != nil {
			return nil, err
		}
		parts = append(parts, p)
		b = rest
	}
	return parts, nil
}

// WriteFrame writes payload to w as one host buffer.
func WriteFrame(w io.Writer, payload []byte) error {
	if uint64(len(payload)) > math.MaxUint32 {
		return ErrTooLarge
	}
	var hdr [prefix]byte
	binary.LittleEndian.PutUint32(hdr[:], uint32(len(payload)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

// ReadFrame reads one host buffer from r.
func ReadFrame(r io.Reader) ([]byte, error) {
	var hdr [prefix]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	payload := make([]byte, binary.LittleEndian.Uint32(hdr[:]))
	if _, err := io.ReadFull(r, payload); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return payload, nil
}

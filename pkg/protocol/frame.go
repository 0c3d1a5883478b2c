package protocol

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
)

// magic is the 5-byte header that opens every frame on the wire.
var magic = [5]byte{'P', 'O', 'P', 'P', 'O'}

const (
	magicLen     = 5
	lengthLen    = 4
	maxFrameSize = 16 << 20 // 16 MiB, generous ceiling against a malformed length prefix
)

// EncodeFrame renders env as "POPPO" + 4-byte big-endian length + JSON body.
func EncodeFrame(env *Envelope) ([]byte, error) {
	body, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("protocol: marshal envelope: %w", err)
	}
	if len(body) > maxFrameSize {
		return nil, fmt.Errorf("protocol: frame too large (%d bytes)", len(body))
	}

	out := make([]byte, magicLen+lengthLen+len(body))
	copy(out, magic[:])
	binary.BigEndian.PutUint32(out[magicLen:], uint32(len(body)))
	copy(out[magicLen+lengthLen:], body)
	return out, nil
}

// WriteFrame encodes env and writes it to w in a single Write call.
func WriteFrame(w io.Writer, env *Envelope) error {
	data, err := EncodeFrame(env)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

// ReadFrame reads one frame from r, blocking until the full frame (or an
// error) arrives. It validates the magic header before trusting the length
// prefix.
func ReadFrame(r *bufio.Reader) (*Envelope, error) {
	var hdr [magicLen + lengthLen]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	if hdr[0] != magic[0] || hdr[1] != magic[1] || hdr[2] != magic[2] || hdr[3] != magic[3] || hdr[4] != magic[4] {
		return nil, fmt.Errorf("protocol: bad magic header %q", hdr[:magicLen])
	}
	length := binary.BigEndian.Uint32(hdr[magicLen:])
	if length > maxFrameSize {
		return nil, fmt.Errorf("protocol: frame length %d exceeds max %d", length, maxFrameSize)
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}

	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("protocol: decode envelope: %w", err)
	}
	return &env, nil
}

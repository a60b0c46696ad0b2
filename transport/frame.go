// Framed wire format for the TCP bus driver.
//
// A frame is a fixed 5-byte header followed by four length-prefixed strings,
// an 8-byte serial, and a length-prefixed body:
//
//	0      3  4  5
//	┌──────┬──┬──┬──────┬──────┬────────┬──────┬────────┬─────────┬──────┐
//	│magic │v │ft│ to   │ from │ thread │ xid  │ serial │ bodyLen │ body │
//	│ orf  │01│  │ u16+s│ u16+s│ u16+s  │ u16+s│ uint64 │ uint32  │      │
//	└──────┴──┴──┴──────┴──────┴────────┴──────┴────────┴─────────┴──────┘
//
// The magic bytes reject non-protocol connections early, and the explicit
// lengths let the reader consume exactly one frame from the TCP stream.
package transport

import (
	"encoding/binary"
	"fmt"
	"io"
)

const (
	frameMagic1  byte = 0x6f // 'o'
	frameMagic2  byte = 0x72 // 'r'
	frameMagic3  byte = 0x66 // 'f'
	frameVersion byte = 0x01

	frameHeaderSize = 5
	maxFrameString  = 1 << 16
	maxFrameBody    = 16 << 20
)

// FrameType distinguishes the broker-link frame kinds.
type FrameType byte

const (
	FrameHello     FrameType = 0 // login; To=username, Body=password; reply carries the assigned peer address in To
	FrameData      FrameType = 1 // routed envelope
	FrameSubscribe FrameType = 2 // worker subscription; To=service name
	FrameHeartbeat FrameType = 3 // keepalive, no strings, no body
)

// Frame is one unit on the broker link.
type Frame struct {
	Type   FrameType
	To     string
	From   string
	Thread string
	XID    string
	Serial uint64
	Body   []byte
}

// EncodeFrame writes one complete frame. Callers sharing a writer must hold
// a write lock, or frames from different requests will interleave.
func EncodeFrame(w io.Writer, f *Frame) error {
	if len(f.Body) > maxFrameBody {
		return fmt.Errorf("frame body too large: %d bytes", len(f.Body))
	}
	size := frameHeaderSize + 2 + len(f.To) + 2 + len(f.From) + 2 + len(f.Thread) + 2 + len(f.XID) + 8 + 4 + len(f.Body)
	buf := make([]byte, 0, size)

	buf = append(buf, frameMagic1, frameMagic2, frameMagic3, frameVersion, byte(f.Type))
	for _, s := range []string{f.To, f.From, f.Thread, f.XID} {
		if len(s) >= maxFrameString {
			return fmt.Errorf("frame string too large: %d bytes", len(s))
		}
		buf = binary.BigEndian.AppendUint16(buf, uint16(len(s)))
		buf = append(buf, s...)
	}
	buf = binary.BigEndian.AppendUint64(buf, f.Serial)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(f.Body)))
	buf = append(buf, f.Body...)

	_, err := w.Write(buf)
	return err
}

// DecodeFrame reads exactly one frame, validating magic, version, and type.
func DecodeFrame(r io.Reader) (*Frame, error) {
	header := make([]byte, frameHeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}
	if header[0] != frameMagic1 || header[1] != frameMagic2 || header[2] != frameMagic3 {
		return nil, fmt.Errorf("invalid magic number: %x", header[0:3])
	}
	if header[3] != frameVersion {
		return nil, fmt.Errorf("unsupported frame version: %d", header[3])
	}
	ft := FrameType(header[4])
	switch ft {
	case FrameHello, FrameData, FrameSubscribe, FrameHeartbeat:
	default:
		return nil, fmt.Errorf("unsupported frame type: %d", header[4])
	}

	f := &Frame{Type: ft}
	for _, dst := range []*string{&f.To, &f.From, &f.Thread, &f.XID} {
		s, err := readString(r)
		if err != nil {
			return nil, err
		}
		*dst = s
	}

	var serialBuf [8]byte
	if _, err := io.ReadFull(r, serialBuf[:]); err != nil {
		return nil, err
	}
	f.Serial = binary.BigEndian.Uint64(serialBuf[:])

	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	bodyLen := binary.BigEndian.Uint32(lenBuf[:])
	if bodyLen > maxFrameBody {
		return nil, fmt.Errorf("frame body too large: %d bytes", bodyLen)
	}
	if bodyLen > 0 {
		f.Body = make([]byte, bodyLen)
		if _, err := io.ReadFull(r, f.Body); err != nil {
			return nil, err
		}
	}
	return f, nil
}

func readString(r io.Reader) (string, error) {
	var lenBuf [2]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return "", err
	}
	n := binary.BigEndian.Uint16(lenBuf[:])
	if n == 0 {
		return "", nil
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

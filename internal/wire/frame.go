package wire

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/bytedance/sonic"
	"github.com/klauspost/compress/snappy"
)

const (
	headerSize = 5

	flagCompressed = 1 << 0

	// DefaultMaxFrame bounds accepted frame bodies.
	DefaultMaxFrame = 1 << 20

	// DefaultCompressThreshold is the body size above which frames are
	// snappy-compressed.
	DefaultCompressThreshold = 4096
)

// DecodeError reports a malformed frame or body. It is fatal for the
// stream that produced it; the protocol is never resynchronized.
type DecodeError struct {
	Reason string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("wire: decode error: %s", e.Reason)
}

// Codec reads and writes frames on one stream. It performs no locking;
// callers serialize writes and reads themselves.
type Codec struct {
	MaxFrame          int
	CompressThreshold int
}

// DefaultCodec returns a codec with the default limits.
func DefaultCodec() Codec {
	return Codec{
		MaxFrame:          DefaultMaxFrame,
		CompressThreshold: DefaultCompressThreshold,
	}
}

// WriteValue encodes v and writes it as one frame. It returns the frame
// size on the wire.
func (c Codec) WriteValue(w io.Writer, v any) (int, error) {
	body, err := sonic.Marshal(v)
	if err != nil {
		return 0, fmt.Errorf("wire: marshal: %w", err)
	}

	var flags byte
	if c.CompressThreshold > 0 && len(body) > c.CompressThreshold {
		body = snappy.Encode(nil, body)
		flags |= flagCompressed
	}

	header := make([]byte, headerSize)
	binary.BigEndian.PutUint32(header[:4], uint32(len(body)))
	header[4] = flags

	if _, err := w.Write(header); err != nil {
		return 0, err
	}
	if _, err := w.Write(body); err != nil {
		return 0, err
	}
	return headerSize + len(body), nil
}

// ReadValue reads one frame and decodes its body into v. It returns the
// frame size on the wire. io.EOF is returned unchanged when the stream
// ends cleanly between frames; any other short read or malformed body is
// a *DecodeError.
func (c Codec) ReadValue(r io.Reader, v any) (int, error) {
	header := make([]byte, headerSize)
	if _, err := io.ReadFull(r, header); err != nil {
		if err == io.EOF {
			return 0, io.EOF
		}
		return 0, &DecodeError{Reason: fmt.Sprintf("short header: %v", err)}
	}

	size := binary.BigEndian.Uint32(header[:4])
	flags := header[4]

	max := c.MaxFrame
	if max == 0 {
		max = DefaultMaxFrame
	}
	if int(size) > max {
		return 0, &DecodeError{Reason: fmt.Sprintf("frame of %d bytes exceeds limit %d", size, max)}
	}

	body := make([]byte, size)
	if _, err := io.ReadFull(r, body); err != nil {
		return 0, &DecodeError{Reason: fmt.Sprintf("short body: %v", err)}
	}
	wireLen := headerSize + len(body)

	if flags&flagCompressed != 0 {
		// The limit applies to the decoded body too, or a tiny frame
		// could claim an arbitrarily large decoded length.
		dlen, err := snappy.DecodedLen(body)
		if err != nil {
			return 0, &DecodeError{Reason: fmt.Sprintf("snappy: %v", err)}
		}
		if dlen > max {
			return 0, &DecodeError{Reason: fmt.Sprintf("decoded frame of %d bytes exceeds limit %d", dlen, max)}
		}
		decoded, err := snappy.Decode(nil, body)
		if err != nil {
			return 0, &DecodeError{Reason: fmt.Sprintf("snappy: %v", err)}
		}
		body = decoded
	}

	if err := sonic.Unmarshal(body, v); err != nil {
		return 0, &DecodeError{Reason: fmt.Sprintf("unmarshal: %v", err)}
	}
	return wireLen, nil
}

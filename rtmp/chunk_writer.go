package rtmp

import (
	"github.com/pkg/errors"

	"github.com/streamlayer/rtmpingest/internal/bitio"
)

// ChunkWriter fragments outbound messages into chunks, always emitting a
// fully expanded type-0 header for the first chunk of a message and a
// one-byte type-3 basic header for every continuation chunk — no delta
// state is kept for outbound messages.
type ChunkWriter struct {
	w *bitio.WriteBuffer
}

// NewChunkWriter creates a ChunkWriter with a fresh output buffer.
func NewChunkWriter() *ChunkWriter {
	return &ChunkWriter{w: bitio.NewWriteBuffer(0)}
}

// WriteMessage serializes msg into one or more chunks of at most
// chunkSize body bytes each and returns the accumulated wire bytes,
// clearing the writer for reuse.
func (cw *ChunkWriter) WriteMessage(msg Message, chunkSize uint32) ([]byte, error) {
	if chunkSize == 0 {
		return nil, NewError(KindInternalError, "chunk size must be non-zero")
	}
	if len(msg.Body) > 0xFFFFFF {
		return nil, NewError(KindInternalError, "message body too large to frame")
	}

	if err := writeBasicHeader(cw.w, fmtType0, msg.ChunkStreamID); err != nil {
		return nil, err
	}
	if err := writeType0MessageHeader(cw.w, msg.Timestamp, uint32(len(msg.Body)), msg.TypeID, msg.MessageStreamID); err != nil {
		return nil, err
	}

	remaining := msg.Body
	for len(remaining) > 0 {
		n := len(remaining)
		if uint32(n) > chunkSize {
			n = int(chunkSize)
		}
		cw.w.WriteBytes(remaining[:n])
		remaining = remaining[n:]
		if len(remaining) > 0 {
			if err := writeBasicHeader(cw.w, fmtType3, msg.ChunkStreamID); err != nil {
				return nil, err
			}
		}
	}

	return cw.w.Take(), nil
}

// writeBasicHeader emits the 1/2/3-byte chunk basic header for the given
// format and chunk-stream id, mirroring the three encoding ranges the
// demultiplexer's readBasicHeader decodes.
func writeBasicHeader(w *bitio.WriteBuffer, format chunkFormat, csid uint32) error {
	if csid < 2 {
		return errors.Errorf("rtmp: chunk stream id %d below minimum of 2", csid)
	}
	fmtBits := byte(format) << 6

	switch {
	case csid < 64:
		w.WriteBytes([]byte{fmtBits | byte(csid)})
	case csid < 320:
		w.WriteBytes([]byte{fmtBits, byte(csid - 64)})
	case csid <= 65599:
		v := csid - 64
		w.WriteBytes([]byte{fmtBits | 0x01, byte(v & 0xFF), byte((v >> 8) & 0xFF)})
	default:
		return errors.Errorf("rtmp: chunk stream id %d exceeds maximum of 65599", csid)
	}
	return nil
}

// writeType0MessageHeader writes the 11-byte fully expanded type-0 message
// header, escaping to a trailing 32-bit extended timestamp when ts is
// 0xFFFFFF or larger (0xFFFFFF itself is the escape sentinel).
func writeType0MessageHeader(w *bitio.WriteBuffer, ts uint32, length uint32, typeID MessageType, messageStreamID uint32) error {
	if length > 0xFFFFFF {
		return errors.Errorf("rtmp: message length %d exceeds 24-bit field", length)
	}

	tsField := ts
	extended := ts >= extendedTimestampMarker
	if extended {
		tsField = extendedTimestampMarker
	}

	if err := w.WriteBitsBE(uint64(tsField), 24); err != nil {
		return err
	}
	if err := w.WriteBitsBE(uint64(length), 24); err != nil {
		return err
	}
	if err := w.WriteBitsBE(uint64(typeID), 8); err != nil {
		return err
	}
	if err := w.WriteBitsLE(uint64(messageStreamID), 32); err != nil {
		return err
	}
	if extended {
		if err := w.WriteBitsBE(uint64(ts), 32); err != nil {
			return err
		}
	}
	return nil
}

package rtmp

import (
	"encoding/binary"

	"github.com/streamlayer/rtmpingest/internal/bitio"
	"github.com/streamlayer/rtmpingest/internal/rtmplog"
)

// chunkFormat is the 2-bit fmt field of a chunk basic header.
type chunkFormat uint8

const (
	fmtType0 chunkFormat = 0
	fmtType1 chunkFormat = 1
	fmtType2 chunkFormat = 2
	fmtType3 chunkFormat = 3
)

const extendedTimestampMarker = 0xFFFFFF

// chunkStreamContext is the per-chunk-stream-id delta-header basis the
// demultiplexer keeps across chunks, and the in-flight message (if any)
// being reassembled on that chunk stream. Every field here is value data:
// a parse attempt mutates a local copy and the Dechunker only replaces its
// stored context wholesale once the attempt succeeds end to end.
type chunkStreamContext struct {
	seen bool // at least one chunk has been parsed on this chunk stream

	lastTimestamp         uint32
	lastTimestampDelta    uint32
	lastMessageLength     uint32
	lastTypeID            MessageType
	lastMessageStreamID   uint32
	lastExtendedTimestamp uint32
	hasExtendedTimestamp  bool

	pending *pendingMessage
}

// pendingMessage is a message reassembling across one or more chunks on one
// chunk stream. timestamp is captured once, when the message's first chunk
// is parsed, and does not change as later continuation chunks arrive.
type pendingMessage struct {
	typeID          MessageType
	messageStreamID uint32
	timestamp       uint32
	length          uint32
	body            []byte
}

func (p *pendingMessage) complete() bool {
	return uint32(len(p.body)) >= p.length
}

// Dechunker reassembles RTMP messages from an interleaved stream of chunks
// read from a bitio.ReadBuffer. It is not safe for concurrent use.
type Dechunker struct {
	r         *bitio.ReadBuffer
	chunkSize uint32
	contexts  map[uint32]*chunkStreamContext
	log       *rtmplog.Logger
}

// NewDechunker creates a Dechunker reading from r, starting at the RTMP
// default inbound chunk size of 128 bytes.
func NewDechunker(r *bitio.ReadBuffer, log *rtmplog.Logger) *Dechunker {
	if log == nil {
		log = rtmplog.NewNop()
	}
	return &Dechunker{
		r:         r,
		chunkSize: 128,
		contexts:  make(map[uint32]*chunkStreamContext),
		log:       log,
	}
}

// SetChunkSize overrides the inbound chunk size, as happens immediately
// when a SetChunkSize control message completes.
func (d *Dechunker) SetChunkSize(size uint32) {
	if size >= 1 {
		d.chunkSize = size
	}
}

// Drain parses as many complete chunks as the buffered data allows,
// returning every message completed along the way. It stops cleanly (nil
// error) on InsufficientData, leaving the buffer positioned to resume once
// more bytes are appended.
func (d *Dechunker) Drain() ([]Message, error) {
	var out []Message
	for {
		msg, err := d.parseOneChunk()
		if err != nil {
			if IsInsufficientData(err) {
				return out, nil
			}
			return out, err
		}
		if msg != nil {
			out = append(out, *msg)
			if msg.TypeID == MsgSetChunkSize {
				d.applySetChunkSize(*msg)
			}
		}
	}
}

func (d *Dechunker) applySetChunkSize(msg Message) {
	if len(msg.Body) < 4 {
		return
	}
	size := binary.BigEndian.Uint32(msg.Body[:4])
	d.log.Debugw("inbound chunk size updated", "chunkStreamId", msg.ChunkStreamID, "size", size)
	d.SetChunkSize(size)
}

// parseOneChunk parses exactly one chunk: a basic header, a message header,
// and the chunk's share of the message body. It returns a non-nil *Message
// only when that chunk completed its message. Any failure restores the
// read buffer to its pre-attempt position via the active snapshot.
func (d *Dechunker) parseOneChunk() (*Message, error) {
	if err := d.r.Snapshot(); err != nil {
		return nil, err
	}

	msg, err := d.parseOneChunkLocked()
	if err != nil {
		if rerr := d.r.Restore(); rerr != nil {
			return nil, rerr
		}
		return nil, err
	}
	if err := d.r.DiscardSnapshot(); err != nil {
		return nil, err
	}
	return msg, nil
}

func (d *Dechunker) parseOneChunkLocked() (*Message, error) {
	format, csid, err := d.readBasicHeader()
	if err != nil {
		return nil, err
	}

	orig, exists := d.contexts[csid]
	var ctx chunkStreamContext
	if exists {
		ctx = *orig
	}

	pending, err := d.readMessageHeader(format, exists, &ctx)
	if err != nil {
		return nil, err
	}
	ctx.seen = true

	need := pending.length - uint32(len(pending.body))
	if need > d.chunkSize {
		need = d.chunkSize
	}
	chunkBody, err := d.r.ReadBytes(int(need))
	if err != nil {
		return nil, err
	}
	pending.body = append(pending.body, chunkBody...)

	var result *Message
	if pending.complete() {
		result = &Message{
			ChunkStreamID:   csid,
			MessageStreamID: pending.messageStreamID,
			TypeID:          pending.typeID,
			Timestamp:       pending.timestamp,
			Body:            pending.body,
		}
		ctx.pending = nil
	} else {
		ctx.pending = pending
	}

	committed := ctx
	d.contexts[csid] = &committed
	return result, nil
}

// readBasicHeader decodes the chunk's fmt + chunk-stream-id, handling the
// one/two/three-byte encodings: a low-6-bits value of 0 means "read one
// more byte, add 64"; 1 means "read two more bytes little-endian, add 64";
// anything else is the literal chunk-stream id.
func (d *Dechunker) readBasicHeader() (chunkFormat, uint32, error) {
	b0, err := d.r.ReadByte()
	if err != nil {
		return 0, 0, err
	}
	format := chunkFormat(b0 >> 6)
	low6 := b0 & 0x3F

	switch low6 {
	case 0:
		b1, err := d.r.ReadByte()
		if err != nil {
			return 0, 0, err
		}
		return format, uint32(b1) + 64, nil
	case 1:
		b1, err := d.r.ReadByte()
		if err != nil {
			return 0, 0, err
		}
		b2, err := d.r.ReadByte()
		if err != nil {
			return 0, 0, err
		}
		return format, uint32(b1) + uint32(b2)*256 + 64, nil
	default:
		return format, uint32(low6), nil
	}
}

// readMessageHeader decodes the format-dependent message header fields,
// mutates ctx's delta-basis state, and returns the pendingMessage this
// chunk's body bytes belong to (either freshly started or the existing
// in-flight one for a continuation).
func (d *Dechunker) readMessageHeader(format chunkFormat, ctxExisted bool, ctx *chunkStreamContext) (*pendingMessage, error) {
	switch format {
	case fmtType0:
		ts24, err := d.r.ReadUint(3, bitio.BigEndian)
		if err != nil {
			return nil, err
		}
		length, err := d.r.ReadUint(3, bitio.BigEndian)
		if err != nil {
			return nil, err
		}
		typeIDByte, err := d.r.ReadByte()
		if err != nil {
			return nil, err
		}
		msgStreamID, err := d.r.ReadUint(4, bitio.LittleEndian)
		if err != nil {
			return nil, err
		}
		ts, extended, err := d.resolveTimestampField(uint32(ts24))
		if err != nil {
			return nil, err
		}

		if ctx.pending != nil {
			return nil, NewError(KindBadProtocolData, "type-0 header arrived with a message already pending on this chunk stream")
		}

		ctx.lastTimestamp = ts
		ctx.lastTimestampDelta = 0
		ctx.lastMessageLength = uint32(length)
		ctx.lastTypeID = MessageType(typeIDByte)
		ctx.lastMessageStreamID = uint32(msgStreamID)
		ctx.hasExtendedTimestamp = extended
		if extended {
			ctx.lastExtendedTimestamp = ts
		}
		return &pendingMessage{
			typeID:          ctx.lastTypeID,
			messageStreamID: ctx.lastMessageStreamID,
			timestamp:       ts,
			length:          ctx.lastMessageLength,
		}, nil

	case fmtType1:
		if !ctxExisted {
			return nil, NewError(KindBadProtocolData, "type-1 header with no prior type-0 on this chunk stream")
		}
		ts24, err := d.r.ReadUint(3, bitio.BigEndian)
		if err != nil {
			return nil, err
		}
		length, err := d.r.ReadUint(3, bitio.BigEndian)
		if err != nil {
			return nil, err
		}
		typeIDByte, err := d.r.ReadByte()
		if err != nil {
			return nil, err
		}
		delta, extended, err := d.resolveTimestampField(uint32(ts24))
		if err != nil {
			return nil, err
		}

		if ctx.pending != nil {
			return nil, NewError(KindBadProtocolData, "type-1 header arrived with a message already pending on this chunk stream")
		}

		ctx.lastTimestampDelta = delta
		ctx.lastTimestamp += delta
		ctx.lastMessageLength = uint32(length)
		ctx.lastTypeID = MessageType(typeIDByte)
		ctx.hasExtendedTimestamp = extended
		if extended {
			ctx.lastExtendedTimestamp = delta
		}
		return &pendingMessage{
			typeID:          ctx.lastTypeID,
			messageStreamID: ctx.lastMessageStreamID,
			timestamp:       ctx.lastTimestamp,
			length:          ctx.lastMessageLength,
		}, nil

	case fmtType2:
		if !ctxExisted {
			return nil, NewError(KindBadProtocolData, "type-2 header with no prior type-0/1 on this chunk stream")
		}
		ts24, err := d.r.ReadUint(3, bitio.BigEndian)
		if err != nil {
			return nil, err
		}
		delta, extended, err := d.resolveTimestampField(uint32(ts24))
		if err != nil {
			return nil, err
		}

		if ctx.pending != nil {
			return nil, NewError(KindBadProtocolData, "type-2 header arrived with a message already pending on this chunk stream")
		}

		ctx.lastTimestampDelta = delta
		ctx.lastTimestamp += delta
		ctx.hasExtendedTimestamp = extended
		if extended {
			ctx.lastExtendedTimestamp = delta
		}
		return &pendingMessage{
			typeID:          ctx.lastTypeID,
			messageStreamID: ctx.lastMessageStreamID,
			timestamp:       ctx.lastTimestamp,
			length:          ctx.lastMessageLength,
		}, nil

	default: // fmtType3
		if !ctxExisted {
			return nil, NewError(KindBadProtocolData, "type-3 header with no prior header on this chunk stream")
		}
		if ctx.hasExtendedTimestamp {
			if v, err := d.r.PeekUint(4, bitio.BigEndian, 0); err == nil && uint32(v) == ctx.lastExtendedTimestamp {
				if _, err := d.r.ReadUint(4, bitio.BigEndian); err != nil {
					return nil, err
				}
			}
		}

		if ctx.pending != nil {
			return ctx.pending, nil
		}

		// No in-flight message: this type-3 chunk starts a new message
		// whose header is inherited wholesale from context.
		ctx.lastTimestamp += ctx.lastTimestampDelta
		return &pendingMessage{
			typeID:          ctx.lastTypeID,
			messageStreamID: ctx.lastMessageStreamID,
			timestamp:       ctx.lastTimestamp,
			length:          ctx.lastMessageLength,
		}, nil
	}
}

// resolveTimestampField reads the trailing 32-bit extended timestamp when
// the 24-bit field just read equals the 0xFFFFFF escape sentinel.
func (d *Dechunker) resolveTimestampField(field24 uint32) (value uint32, extended bool, err error) {
	if field24 != extendedTimestampMarker {
		return field24, false, nil
	}
	ext, err := d.r.ReadUint(4, bitio.BigEndian)
	if err != nil {
		return 0, false, err
	}
	return uint32(ext), true, nil
}

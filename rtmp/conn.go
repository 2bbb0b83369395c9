package rtmp

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/streamlayer/rtmpingest/amf0"
	"github.com/streamlayer/rtmpingest/internal/bitio"
	"github.com/streamlayer/rtmpingest/internal/rtmplog"
)

// handshakeState is the handshake sub-machine's phase.
type handshakeState uint8

const (
	hsUninit handshakeState = iota
	hsS0Sent
	hsS2Sent
	hsDone
)

const (
	controlChunkStreamID = 2 // protocol-control messages
	commandChunkStreamID = 3 // _result/onStatus/onBWDone, by convention

	handshakeVersion  = 0x03
	handshakeBodySize = 1536
)

// Session is the per-connection protocol state, exported for the Actor and
// for read-only introspection through Server's session registry. Fields are
// guarded by mu because the registry may be read from a goroutine other
// than the connection's own.
type Session struct {
	ID  uuid.UUID
	App string

	InboundChunkSize  uint32
	OutboundChunkSize uint32
	OwnWindowAckSize  uint32 // advertised to the peer at connect
	PeerWindowAckSize uint32

	BytesReceived uint64
	LastAck       uint64

	NextStreamID uint32
	Streams      map[uint32]string // message-stream id -> publishing name

	mu sync.Mutex
}

func newSession(ownWindowAckSize, outboundChunkSize uint32) *Session {
	return &Session{
		ID:                uuid.New(),
		InboundChunkSize:  128,
		OutboundChunkSize: outboundChunkSize,
		OwnWindowAckSize:  ownWindowAckSize,
		NextStreamID:      1,
		Streams:           make(map[uint32]string),
	}
}

// conn drives one accepted TCP connection through the handshake, the
// command-dispatch state machine, and flow control, for as long as the
// socket stays open.
type conn struct {
	server *Server
	rwc    net.Conn
	bufr   *bufio.Reader
	bufw   *bufio.Writer

	log   *rtmplog.Logger
	actor Actor

	session   *Session
	handshake handshakeState
	dechunker *Dechunker

	disconnectOnce sync.Once
}

// receiveHandshake runs the handshake sub-machine to completion:
// Uninit -> S0Sent -> S2Sent -> Done. C2's contents are read but
// deliberately not compared against S1's random payload — known-
// nonconforming encoders exist that do not echo it faithfully, and C2's
// role is RTT/liveness signaling, not authentication.
func (c *conn) receiveHandshake(ctx context.Context) error {
	c0, err := c.bufr.ReadByte()
	if err != nil {
		return WrapError(KindBadProtocolData, "handshake: read C0", err)
	}
	if c0 != handshakeVersion {
		return NewError(KindBadProtocolData, fmt.Sprintf("handshake: unsupported C0 version %d", c0))
	}

	c1 := make([]byte, handshakeBodySize)
	if _, err := io.ReadFull(c.bufr, c1); err != nil {
		return WrapError(KindBadProtocolData, "handshake: read C1", err)
	}

	if err := c.bufw.WriteByte(handshakeVersion); err != nil {
		return WrapError(KindInternalError, "handshake: write S0", err)
	}
	c.handshake = hsS0Sent

	s1 := make([]byte, handshakeBodySize)
	binary.BigEndian.PutUint32(s1[:4], serverEpoch())
	// s1[4:8] left zero, per RTMP's padding field.
	if _, err := rand.Read(s1[8:]); err != nil {
		return WrapError(KindInternalError, "handshake: generate S1 random payload", err)
	}
	if _, err := c.bufw.Write(s1); err != nil {
		return WrapError(KindInternalError, "handshake: write S1", err)
	}
	if err := c.bufw.Flush(); err != nil {
		return WrapError(KindInternalError, "handshake: flush S0/S1", err)
	}

	s2 := make([]byte, handshakeBodySize)
	copy(s2[:4], c1[:4]) // echo C1's timestamp
	binary.BigEndian.PutUint32(s2[4:8], serverEpoch())
	copy(s2[8:], c1[8:]) // echo C1's random payload
	if _, err := c.bufw.Write(s2); err != nil {
		return WrapError(KindInternalError, "handshake: write S2", err)
	}
	if err := c.bufw.Flush(); err != nil {
		return WrapError(KindInternalError, "handshake: flush S2", err)
	}
	c.handshake = hsS2Sent

	c2 := make([]byte, handshakeBodySize)
	if _, err := io.ReadFull(c.bufr, c2); err != nil {
		return WrapError(KindBadProtocolData, "handshake: read C2", err)
	}

	c.handshake = hsDone
	return nil
}

func serverEpoch() uint32 {
	return uint32(time.Now().UnixMilli())
}

// serve drives the connection for its whole lifetime: handshake, then an
// indefinite read loop that feeds network bytes to the Dechunker and
// dispatches every completed message, until the socket closes or a fatal
// protocol error occurs.
func (c *conn) serve(ctx context.Context) {
	c.bufr = bufio.NewReader(c.rwc)
	c.bufw = bufio.NewWriter(c.rwc)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer c.teardown()

	if err := c.receiveHandshake(ctx); err != nil {
		c.log.Errorw("handshake failed", "err", err)
		return
	}
	c.log.Debugw("handshake complete", "session", c.session.ID)

	readBuf := bitio.NewReadBuffer(4096)
	c.dechunker = NewDechunker(readBuf, c.log)
	c.session.mu.Lock()
	inboundChunkSize := c.session.InboundChunkSize
	c.session.mu.Unlock()
	c.dechunker.SetChunkSize(inboundChunkSize)

	netBuf := make([]byte, 4096)
	for {
		n, err := c.bufr.Read(netBuf)
		if n > 0 {
			if lerr := c.throttle(ctx, n); lerr != nil {
				c.log.Errorw("rate limiter wait failed", "err", lerr)
				return
			}
			if aerr := readBuf.Append(netBuf[:n]); aerr != nil {
				c.log.Errorw("buffer network read", "err", aerr)
				return
			}
			c.onBytesReceived(uint64(n))

			msgs, derr := c.dechunker.Drain()
			if derr != nil {
				c.log.Errorw("dechunk failed", "err", derr)
				return
			}
			for _, m := range msgs {
				if herr := c.handleMessage(ctx, m); herr != nil {
					c.log.Errorw("message handling failed", "typeId", m.TypeID, "err", herr)
					return
				}
			}
			if ferr := c.bufw.Flush(); ferr != nil {
				c.log.Errorw("flush outbound buffer", "err", ferr)
				return
			}
		}
		if err != nil {
			if err != io.EOF {
				c.log.Debugw("connection read ended", "err", err)
			}
			return
		}
	}
}

func (c *conn) throttle(ctx context.Context, n int) error {
	if c.server == nil || c.server.RateLimiter == nil {
		return nil
	}
	return c.server.RateLimiter.WaitN(ctx, n)
}

func (c *conn) teardown() {
	c.disconnectOnce.Do(func() {
		c.rwc.Close()
		if c.actor != nil {
			c.actor.OnDisconnect()
		}
		if c.server != nil && c.session != nil {
			c.server.forgetSession(c.session.ID)
		}
	})
}

// onBytesReceived advances the flow-control byte counter and emits one
// Acknowledgement per window_ack_size/2 boundary crossed, even when a
// single read crosses more than one boundary at once.
func (c *conn) onBytesReceived(n uint64) {
	c.session.mu.Lock()
	c.session.BytesReceived += n
	threshold := uint64(c.session.OwnWindowAckSize) / 2
	var acks []uint64
	if threshold > 0 {
		for c.session.BytesReceived-c.session.LastAck >= threshold {
			c.session.LastAck += threshold
			acks = append(acks, c.session.LastAck)
		}
	}
	c.session.mu.Unlock()

	for _, count := range acks {
		if err := c.sendAcknowledgement(count); err != nil {
			c.log.Errorw("send acknowledgement", "err", err)
			return
		}
	}
}

// handleMessage dispatches one reassembled message by type id.
func (c *conn) handleMessage(ctx context.Context, m Message) error {
	switch m.TypeID {
	case MsgSetChunkSize:
		size, err := ParseSetChunkSize(m.Body)
		if err != nil {
			return err
		}
		c.session.mu.Lock()
		c.session.InboundChunkSize = size
		c.session.mu.Unlock()
		return nil

	case MsgWindowAckSize:
		size, err := ParseWindowAckSize(m.Body)
		if err != nil {
			return err
		}
		c.session.mu.Lock()
		c.session.PeerWindowAckSize = size
		c.session.mu.Unlock()
		return c.sendOnBWDone()

	case MsgAcknowledgement:
		c.log.Debugw("received acknowledgement from peer", "chunkStreamId", m.ChunkStreamID)
		return nil

	case MsgAudio:
		return c.forwardMedia(m, false)

	case MsgVideo:
		return c.forwardMedia(m, true)

	case MsgDataAMF0:
		return c.handleDataAMF0(m)

	case MsgCmdAMF0:
		return c.handleCommand(ctx, m)

	default:
		c.log.Debugw("ignoring unrecognized message type", "typeId", m.TypeID)
		return nil
	}
}

func (c *conn) forwardMedia(m Message, isVideo bool) error {
	if c.actor == nil {
		return nil
	}
	if !c.actor.OnMedia(m.MessageStreamID, isVideo, m) {
		return NewError(KindInternalError, "collaborator rejected media frame")
	}
	return nil
}

func (c *conn) handleDataAMF0(m Message) error {
	_, meta, err := ParseDataAMF0(m.Body)
	if err != nil {
		return err
	}
	if c.actor == nil {
		return nil
	}
	if !c.actor.OnMetadata(m.MessageStreamID, meta) {
		return NewError(KindInternalError, "collaborator rejected metadata")
	}
	return nil
}

// handleCommand peeks the leading AMF0 string of a CmdAMF0 message and
// dispatches to the matching handler. Unrecognised commands are logged
// and ignored rather than treated as fatal, per the Unsupported error
// kind's carve-out for unknown top-level commands.
func (c *conn) handleCommand(ctx context.Context, m Message) error {
	name, err := PeekCommandName(m.Body)
	if err != nil {
		return err
	}
	switch name {
	case "connect":
		return c.handleConnect(m)
	case "releaseStream":
		return c.handleReleaseStream(m)
	case "FCPublish":
		return c.handleFCPublish(m)
	case "createStream":
		return c.handleCreateStream(m)
	case "publish":
		return c.handlePublish(m)
	default:
		c.log.Warnw("ignoring unrecognized command", "command", name)
		return nil
	}
}

func (c *conn) handleConnect(m Message) error {
	cmd, err := ParseConnect(m.Body)
	if err != nil {
		return err
	}
	if c.actor != nil && !c.actor.OnConnect(cmd) {
		return NewError(KindInternalError, "collaborator rejected connect")
	}

	c.session.mu.Lock()
	c.session.App = cmd.App
	outboundChunkSize := c.session.OutboundChunkSize
	ownWindowAckSize := c.session.OwnWindowAckSize
	c.session.mu.Unlock()

	if err := c.sendWindowAckSize(ownWindowAckSize); err != nil {
		return err
	}
	if err := c.sendSetPeerBandwidth(ownWindowAckSize, BandwidthDynamic); err != nil {
		return err
	}
	if err := c.sendSetChunkSize(outboundChunkSize); err != nil {
		return err
	}
	if err := c.sendConnectResult(cmd.TransactionID); err != nil {
		return err
	}
	return c.sendOnBWDone()
}

func (c *conn) handleReleaseStream(m Message) error {
	cmd, err := ParseReleaseStream(m.Body)
	if err != nil {
		return err
	}
	c.log.Debugw("releaseStream", "streamName", cmd.StreamName)
	return nil
}

func (c *conn) handleFCPublish(m Message) error {
	cmd, err := ParseFCPublish(m.Body)
	if err != nil {
		return err
	}
	c.log.Debugw("FCPublish", "streamName", cmd.StreamName)
	return nil
}

func (c *conn) handleCreateStream(m Message) error {
	cmd, err := ParseCreateStream(m.Body)
	if err != nil {
		return err
	}

	c.session.mu.Lock()
	id := c.session.NextStreamID
	c.session.NextStreamID++
	c.session.mu.Unlock()

	if c.actor != nil && !c.actor.OnCreateStream(id) {
		return NewError(KindInternalError, "collaborator rejected createStream")
	}
	return c.sendCreateStreamResult(cmd.TransactionID, id)
}

func (c *conn) handlePublish(m Message) error {
	cmd, err := ParsePublish(m.Body)
	if err != nil {
		return err
	}
	name := stripQuery(cmd.PublishingName)

	if c.actor != nil && !c.actor.OnPublish(m.MessageStreamID, name) {
		return NewError(KindInternalError, "collaborator rejected publish")
	}

	c.session.mu.Lock()
	c.session.Streams[m.MessageStreamID] = name
	c.session.mu.Unlock()

	return c.sendPublishOnStatus(m.MessageStreamID, name)
}

func stripQuery(name string) string {
	if i := strings.IndexByte(name, '?'); i >= 0 {
		return name[:i]
	}
	return name
}

func (c *conn) writeMessage(csid, msid uint32, typeID MessageType, body []byte) error {
	c.session.mu.Lock()
	chunkSize := c.session.OutboundChunkSize
	c.session.mu.Unlock()

	cw := NewChunkWriter()
	wire, err := cw.WriteMessage(Message{
		ChunkStreamID:   csid,
		MessageStreamID: msid,
		TypeID:          typeID,
		Body:            body,
	}, chunkSize)
	if err != nil {
		return WrapError(KindInternalError, "serialize outbound message", err)
	}
	if _, err := c.bufw.Write(wire); err != nil {
		return WrapError(KindInternalError, "write outbound message", err)
	}
	return nil
}

func (c *conn) sendWindowAckSize(size uint32) error {
	body := make([]byte, 4)
	binary.BigEndian.PutUint32(body, size)
	return c.writeMessage(controlChunkStreamID, 0, MsgWindowAckSize, body)
}

func (c *conn) sendSetPeerBandwidth(size uint32, limit BandwidthLimitType) error {
	body := make([]byte, 5)
	binary.BigEndian.PutUint32(body[:4], size)
	body[4] = byte(limit)
	return c.writeMessage(controlChunkStreamID, 0, MsgSetPeerBandwidth, body)
}

func (c *conn) sendSetChunkSize(size uint32) error {
	body := make([]byte, 4)
	binary.BigEndian.PutUint32(body, size)
	if err := c.writeMessage(controlChunkStreamID, 0, MsgSetChunkSize, body); err != nil {
		return err
	}
	c.session.mu.Lock()
	c.session.OutboundChunkSize = size
	c.session.mu.Unlock()
	return nil
}

func (c *conn) sendAcknowledgement(count uint64) error {
	body := make([]byte, 4)
	binary.BigEndian.PutUint32(body, uint32(count))
	return c.writeMessage(controlChunkStreamID, 0, MsgAcknowledgement, body)
}

func (c *conn) sendConnectResult(transactionID float64) error {
	props := amf0.Object(
		amf0.Prop("fmsVer", amf0.String("FMS/3,0,1,123")),
		amf0.Prop("capabilities", amf0.Number(31)),
		amf0.Prop("mode", amf0.Number(1)),
	)
	info := amf0.Object(
		amf0.Prop("level", amf0.String("status")),
		amf0.Prop("code", amf0.String("NetConnection.Connect.Success")),
		amf0.Prop("description", amf0.String("Connection succeeded.")),
		amf0.Prop("objectEncoding", amf0.Number(0)),
	)
	body, err := encodeAMF0Values(amf0.String("_result"), amf0.Number(transactionID), props, info)
	if err != nil {
		return err
	}
	return c.writeMessage(commandChunkStreamID, 0, MsgCmdAMF0, body)
}

func (c *conn) sendOnBWDone() error {
	body, err := encodeAMF0Values(amf0.String("onBWDone"), amf0.Number(0), amf0.Null())
	if err != nil {
		return err
	}
	return c.writeMessage(commandChunkStreamID, 0, MsgCmdAMF0, body)
}

func (c *conn) sendCreateStreamResult(transactionID float64, streamID uint32) error {
	body, err := encodeAMF0Values(
		amf0.String("_result"),
		amf0.Number(transactionID),
		amf0.Null(),
		amf0.Number(float64(streamID)),
	)
	if err != nil {
		return err
	}
	return c.writeMessage(commandChunkStreamID, 0, MsgCmdAMF0, body)
}

func (c *conn) sendPublishOnStatus(messageStreamID uint32, name string) error {
	info := amf0.Object(
		amf0.Prop("level", amf0.String("status")),
		amf0.Prop("code", amf0.String("NetStream.Publish.Start")),
		amf0.Prop("description", amf0.String(fmt.Sprintf("%s is now published.", name))),
	)
	body, err := encodeAMF0Values(amf0.String("onStatus"), amf0.Number(0), amf0.Null(), info)
	if err != nil {
		return err
	}
	return c.writeMessage(commandChunkStreamID, messageStreamID, MsgCmdAMF0, body)
}

func encodeAMF0Values(values ...amf0.Value) ([]byte, error) {
	w := bitio.NewWriteBuffer(256)
	for _, v := range values {
		if err := amf0.Encode(w, v); err != nil {
			return nil, WrapError(KindInternalError, "encode command response", err)
		}
	}
	return w.Take(), nil
}

package rtmp

// MessageType is the RTMP message type id carried in chunk message headers.
type MessageType uint8

const (
	MsgSetChunkSize    MessageType = 1
	MsgAcknowledgement MessageType = 3
	MsgWindowAckSize   MessageType = 5
	MsgSetPeerBandwidth MessageType = 6
	MsgAudio           MessageType = 8
	MsgVideo           MessageType = 9
	MsgDataAMF0        MessageType = 18
	MsgCmdAMF0         MessageType = 20
)

func (t MessageType) String() string {
	switch t {
	case MsgSetChunkSize:
		return "SetChunkSize"
	case MsgAcknowledgement:
		return "Acknowledgement"
	case MsgWindowAckSize:
		return "WindowAckSize"
	case MsgSetPeerBandwidth:
		return "SetPeerBandwidth"
	case MsgAudio:
		return "Audio"
	case MsgVideo:
		return "Video"
	case MsgDataAMF0:
		return "DataAMF0"
	case MsgCmdAMF0:
		return "CmdAMF0"
	default:
		return "Unknown"
	}
}

// BandwidthLimitType is the trailing byte of a SetPeerBandwidth message.
type BandwidthLimitType uint8

const (
	BandwidthHard    BandwidthLimitType = 0
	BandwidthSoft    BandwidthLimitType = 1
	BandwidthDynamic BandwidthLimitType = 2
)

// Message is a fully reassembled logical RTMP message: the chunk
// demultiplexer's unit of output and the chunk serializer's unit of input.
type Message struct {
	ChunkStreamID   uint32
	MessageStreamID uint32
	TypeID          MessageType
	Timestamp       uint32
	Body            []byte
}

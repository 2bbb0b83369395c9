package rtmp

import (
	"strconv"

	"github.com/streamlayer/rtmpingest/amf0"
	"github.com/streamlayer/rtmpingest/internal/bitio"
)

// ConnectCmd is the parsed argument set of a "connect" command, carrying
// only the recognised keys; anything else in the command object is skipped
// during parsing.
type ConnectCmd struct {
	TransactionID  float64
	App            string
	FlashVer       string
	SwfURL         string
	TcURL          string
	Type           string
	FPad           bool
	AudioCodecs    float64
	VideoCodecs    float64
	PageURL        string
	ObjectEncoding float64
}

// ReleaseStreamCmd is the parsed argument set of a "releaseStream" command.
type ReleaseStreamCmd struct {
	TransactionID float64
	StreamName    string
}

// FCPublishCmd is the parsed argument set of an "FCPublish" command.
type FCPublishCmd struct {
	TransactionID float64
	StreamName    string
}

// CreateStreamCmd is the parsed argument set of a "createStream" command.
type CreateStreamCmd struct {
	TransactionID float64
}

// PublishCmd is the parsed argument set of a "publish" command.
type PublishCmd struct {
	TransactionID  float64
	PublishingName string
	PublishingType string
}

// MetaData is the recognised field set of an onMetaData data-AMF0 message.
// videocodecid/audiocodecid may arrive as either an AMF0 string or number;
// numbers are stringified so callers see one consistent type.
type MetaData struct {
	Width           float64
	Height          float64
	Duration        float64
	VideoDataRate   float64
	FrameRate       float64
	AudioDataRate   float64
	AudioSampleRate float64
	AudioChannels   float64
	VideoCodecID    string
	AudioCodecID    string
}

func bodyReader(body []byte) (*bitio.ReadBuffer, error) {
	r := bitio.NewReadBuffer(len(body))
	if err := r.Append(body); err != nil {
		return nil, WrapError(KindInternalError, "buffer a complete message body", err)
	}
	return r, nil
}

func badProtocolData(context string, err error) error {
	return WrapError(KindBadProtocolData, context, err)
}

// PeekCommandName decodes the leading AMF0 string of a CmdAMF0 message
// body without needing any further context, used by the connection driver
// to decide which command handler to dispatch to.
func PeekCommandName(body []byte) (string, error) {
	r, err := bodyReader(body)
	if err != nil {
		return "", err
	}
	v, err := amf0.Decode(r)
	if err != nil {
		return "", badProtocolData("decode command name", err)
	}
	if v.Type != amf0.TypeString {
		return "", NewError(KindBadProtocolData, "command message does not start with a string command name")
	}
	return v.Str, nil
}

// ParseConnect parses a "connect" command body: [name, transactionId, commandObject].
func ParseConnect(body []byte) (*ConnectCmd, error) {
	r, err := bodyReader(body)
	if err != nil {
		return nil, err
	}
	if _, err := amf0.Decode(r); err != nil { // command name, already known
		return nil, badProtocolData("connect: command name", err)
	}
	txID, err := decodeNumber(r, "connect: transaction id")
	if err != nil {
		return nil, err
	}
	obj, err := amf0.Decode(r)
	if err != nil {
		return nil, badProtocolData("connect: command object", err)
	}

	cmd := &ConnectCmd{TransactionID: txID}
	if obj.Type == amf0.TypeObject || obj.Type == amf0.TypeEcmaArray {
		if v, ok := obj.GetFold("app"); ok {
			cmd.App = v.Str
		}
		if v, ok := obj.GetFold("flashver"); ok {
			cmd.FlashVer = v.Str
		}
		if v, ok := obj.GetFold("swfurl"); ok {
			cmd.SwfURL = v.Str
		}
		if v, ok := obj.GetFold("tcurl"); ok {
			cmd.TcURL = v.Str
		}
		if v, ok := obj.GetFold("type"); ok {
			cmd.Type = v.Str
		}
		if v, ok := obj.GetFold("fpad"); ok {
			cmd.FPad = v.Boolean
		}
		if v, ok := obj.GetFold("audiocodecs"); ok {
			cmd.AudioCodecs = v.Number
		}
		if v, ok := obj.GetFold("videocodecs"); ok {
			cmd.VideoCodecs = v.Number
		}
		if v, ok := obj.GetFold("pageurl"); ok {
			cmd.PageURL = v.Str
		}
		if v, ok := obj.GetFold("objectencoding"); ok {
			cmd.ObjectEncoding = v.Number
		}
	}
	return cmd, nil
}

// ParseReleaseStream parses a "releaseStream" command body:
// [name, transactionId, null-or-object, streamName].
func ParseReleaseStream(body []byte) (*ReleaseStreamCmd, error) {
	txID, name, err := parseTransactionIDSkipThenString(body, "releaseStream")
	if err != nil {
		return nil, err
	}
	return &ReleaseStreamCmd{TransactionID: txID, StreamName: name}, nil
}

// ParseFCPublish parses an "FCPublish" command body:
// [name, transactionId, null-or-object, streamName].
func ParseFCPublish(body []byte) (*FCPublishCmd, error) {
	txID, name, err := parseTransactionIDSkipThenString(body, "FCPublish")
	if err != nil {
		return nil, err
	}
	return &FCPublishCmd{TransactionID: txID, StreamName: name}, nil
}

func parseTransactionIDSkipThenString(body []byte, cmdName string) (float64, string, error) {
	r, err := bodyReader(body)
	if err != nil {
		return 0, "", err
	}
	if _, err := amf0.Decode(r); err != nil {
		return 0, "", badProtocolData(cmdName+": command name", err)
	}
	txID, err := decodeNumber(r, cmdName+": transaction id")
	if err != nil {
		return 0, "", err
	}
	if err := amf0.Skip(r); err != nil { // null or command object
		return 0, "", badProtocolData(cmdName+": skip null/object argument", err)
	}
	nameVal, err := amf0.Decode(r)
	if err != nil {
		return 0, "", badProtocolData(cmdName+": stream name", err)
	}
	return txID, nameVal.Str, nil
}

// ParseCreateStream parses a "createStream" command body:
// [name, transactionId, null-or-object].
func ParseCreateStream(body []byte) (*CreateStreamCmd, error) {
	r, err := bodyReader(body)
	if err != nil {
		return nil, err
	}
	if _, err := amf0.Decode(r); err != nil {
		return nil, badProtocolData("createStream: command name", err)
	}
	txID, err := decodeNumber(r, "createStream: transaction id")
	if err != nil {
		return nil, err
	}
	if r.Remaining() > 0 {
		if err := amf0.Skip(r); err != nil {
			return nil, badProtocolData("createStream: skip null/object argument", err)
		}
	}
	return &CreateStreamCmd{TransactionID: txID}, nil
}

// ParsePublish parses a "publish" command body:
// [name, transactionId, null, publishingName, publishingType].
func ParsePublish(body []byte) (*PublishCmd, error) {
	r, err := bodyReader(body)
	if err != nil {
		return nil, err
	}
	if _, err := amf0.Decode(r); err != nil {
		return nil, badProtocolData("publish: command name", err)
	}
	txID, err := decodeNumber(r, "publish: transaction id")
	if err != nil {
		return nil, err
	}
	if err := amf0.Skip(r); err != nil { // null
		return nil, badProtocolData("publish: skip null argument", err)
	}
	nameVal, err := amf0.Decode(r)
	if err != nil {
		return nil, badProtocolData("publish: publishing name", err)
	}
	typeVal, err := amf0.Decode(r)
	if err != nil {
		return nil, badProtocolData("publish: publishing type", err)
	}
	return &PublishCmd{TransactionID: txID, PublishingName: nameVal.Str, PublishingType: typeVal.Str}, nil
}

func decodeNumber(r *bitio.ReadBuffer, context string) (float64, error) {
	v, err := amf0.Decode(r)
	if err != nil {
		return 0, badProtocolData(context, err)
	}
	if v.Type != amf0.TypeNumber {
		return 0, NewError(KindBadProtocolData, context+": expected a number")
	}
	return v.Number, nil
}

// ParseWindowAckSize parses a WindowAckSize control message body: a single
// 32-bit big-endian size.
func ParseWindowAckSize(body []byte) (uint32, error) {
	return parseUint32Body(body, "WindowAckSize")
}

// ParseSetChunkSize parses a SetChunkSize control message body: a single
// 32-bit big-endian size.
func ParseSetChunkSize(body []byte) (uint32, error) {
	return parseUint32Body(body, "SetChunkSize")
}

func parseUint32Body(body []byte, context string) (uint32, error) {
	r, err := bodyReader(body)
	if err != nil {
		return 0, err
	}
	v, err := r.ReadUint(4, bitio.BigEndian)
	if err != nil {
		return 0, badProtocolData(context, err)
	}
	return uint32(v), nil
}

// setDataFrameCommand is the literal leading string of a data-AMF0 message
// that introduces stream metadata.
const setDataFrameCommand = "@setDataFrame"

// onMetaDataCommand is the nested command name carrying the MetaData
// object itself.
const onMetaDataCommand = "onMetaData"

// ParseDataAMF0 parses a DataAMF0 message body. The leading string must be
// "@setDataFrame"; the raw remainder of the body (everything after that
// string) is returned unmodified as rawFrame — this is the exact blob a
// downstream muxer re-emits. It is then further decoded as
// ["onMetaData", object-or-ecma-array] to populate MetaData; unrecognised
// keys are skipped.
func ParseDataAMF0(body []byte) (rawFrame []byte, meta *MetaData, err error) {
	r, err := bodyReader(body)
	if err != nil {
		return nil, nil, err
	}
	header, err := amf0.Decode(r)
	if err != nil {
		return nil, nil, badProtocolData("data message: leading string", err)
	}
	if header.Type != amf0.TypeString || header.Str != setDataFrameCommand {
		return nil, nil, NewError(KindBadProtocolData, "data message does not start with @setDataFrame")
	}

	consumed := len(body) - r.Remaining()
	rawFrame = append([]byte(nil), body[consumed:]...)

	nested, err := amf0.Decode(r)
	if err != nil {
		return nil, nil, badProtocolData("data message: nested command name", err)
	}
	if nested.Type != amf0.TypeString || nested.Str != onMetaDataCommand {
		return nil, nil, NewError(KindBadProtocolData, "data message nested command is not onMetaData")
	}

	obj, err := amf0.Decode(r)
	if err != nil {
		return nil, nil, badProtocolData("data message: metadata object", err)
	}

	meta = &MetaData{}
	if obj.Type == amf0.TypeObject || obj.Type == amf0.TypeEcmaArray {
		if v, ok := obj.Get("width"); ok {
			meta.Width = v.Number
		}
		if v, ok := obj.Get("height"); ok {
			meta.Height = v.Number
		}
		if v, ok := obj.Get("duration"); ok {
			meta.Duration = v.Number
		}
		if v, ok := obj.Get("videodatarate"); ok {
			meta.VideoDataRate = v.Number
		}
		if v, ok := obj.Get("framerate"); ok {
			meta.FrameRate = v.Number
		}
		if v, ok := obj.Get("audiodatarate"); ok {
			meta.AudioDataRate = v.Number
		}
		if v, ok := obj.Get("audiosamplerate"); ok {
			meta.AudioSampleRate = v.Number
		}
		if v, ok := obj.Get("audiochannels"); ok {
			meta.AudioChannels = v.Number
		}
		if v, ok := obj.Get("videocodecid"); ok {
			meta.VideoCodecID = stringifyCodecID(v)
		}
		if v, ok := obj.Get("audiocodecid"); ok {
			meta.AudioCodecID = stringifyCodecID(v)
		}
	}
	return rawFrame, meta, nil
}

func stringifyCodecID(v amf0.Value) string {
	if v.Type == amf0.TypeNumber {
		return strconv.FormatFloat(v.Number, 'g', -1, 64)
	}
	return v.Str
}

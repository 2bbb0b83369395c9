package rtmp

import (
	"testing"

	"github.com/streamlayer/rtmpingest/amf0"
	"github.com/streamlayer/rtmpingest/internal/bitio"
)

func encodeCommandBody(t *testing.T, values ...amf0.Value) []byte {
	t.Helper()
	w := bitio.NewWriteBuffer(256)
	for _, v := range values {
		if err := amf0.Encode(w, v); err != nil {
			t.Fatalf("Encode: %v", err)
		}
	}
	return w.Take()
}

func TestParseConnect(t *testing.T) {
	obj := amf0.Object(
		amf0.Prop("app", amf0.String("live")),
		amf0.Prop("TcUrl", amf0.String("rtmp://host/live")), // case-insensitive key match
		amf0.Prop("fpad", amf0.Boolean(false)),
		amf0.Prop("unknownKey", amf0.String("ignored")),
	)
	body := encodeCommandBody(t, amf0.String("connect"), amf0.Number(1), obj)

	cmd, err := ParseConnect(body)
	if err != nil {
		t.Fatalf("ParseConnect: %v", err)
	}
	if cmd.TransactionID != 1 {
		t.Fatalf("TransactionID: got %v want 1", cmd.TransactionID)
	}
	if cmd.App != "live" {
		t.Fatalf("App: got %q want %q", cmd.App, "live")
	}
	if cmd.TcURL != "rtmp://host/live" {
		t.Fatalf("TcURL: got %q", cmd.TcURL)
	}
}

func TestParseReleaseStreamAndFCPublish(t *testing.T) {
	body := encodeCommandBody(t, amf0.String("releaseStream"), amf0.Number(2), amf0.Null(), amf0.String("cam"))
	cmd, err := ParseReleaseStream(body)
	if err != nil {
		t.Fatalf("ParseReleaseStream: %v", err)
	}
	if cmd.StreamName != "cam" || cmd.TransactionID != 2 {
		t.Fatalf("unexpected ReleaseStreamCmd: %+v", cmd)
	}

	body2 := encodeCommandBody(t, amf0.String("FCPublish"), amf0.Number(3), amf0.Null(), amf0.String("cam"))
	fc, err := ParseFCPublish(body2)
	if err != nil {
		t.Fatalf("ParseFCPublish: %v", err)
	}
	if fc.StreamName != "cam" || fc.TransactionID != 3 {
		t.Fatalf("unexpected FCPublishCmd: %+v", fc)
	}
}

func TestParseCreateStream(t *testing.T) {
	body := encodeCommandBody(t, amf0.String("createStream"), amf0.Number(4), amf0.Null())
	cmd, err := ParseCreateStream(body)
	if err != nil {
		t.Fatalf("ParseCreateStream: %v", err)
	}
	if cmd.TransactionID != 4 {
		t.Fatalf("TransactionID: got %v want 4", cmd.TransactionID)
	}
}

func TestParsePublishStripsNothingAtParseTime(t *testing.T) {
	// ParsePublish itself does not strip the query string; that happens in
	// the connection driver. Confirm the raw name is returned untouched here.
	body := encodeCommandBody(t, amf0.String("publish"), amf0.Number(5), amf0.Null(), amf0.String("cam?token=x"), amf0.String("live"))
	cmd, err := ParsePublish(body)
	if err != nil {
		t.Fatalf("ParsePublish: %v", err)
	}
	if cmd.PublishingName != "cam?token=x" {
		t.Fatalf("PublishingName: got %q", cmd.PublishingName)
	}
	if cmd.PublishingType != "live" {
		t.Fatalf("PublishingType: got %q", cmd.PublishingType)
	}
}

func TestParseWindowAckSizeAndSetChunkSize(t *testing.T) {
	body := []byte{0x00, 0x26, 0x25, 0xA0} // 2500000 big-endian
	v, err := ParseWindowAckSize(body)
	if err != nil {
		t.Fatalf("ParseWindowAckSize: %v", err)
	}
	if v != 2500000 {
		t.Fatalf("got %d want 2500000", v)
	}

	body2 := []byte{0x00, 0x00, 0x04, 0x00} // 1024
	v2, err := ParseSetChunkSize(body2)
	if err != nil {
		t.Fatalf("ParseSetChunkSize: %v", err)
	}
	if v2 != 1024 {
		t.Fatalf("got %d want 1024", v2)
	}
}

func TestParseDataAMF0PreservesRawFrameAndFields(t *testing.T) {
	meta := amf0.EcmaArray(
		amf0.Prop("width", amf0.Number(1920)),
		amf0.Prop("height", amf0.Number(1080)),
		amf0.Prop("videocodecid", amf0.Number(7)),
		amf0.Prop("audiocodecid", amf0.String("mp4a")),
	)
	rest := encodeCommandBody(t, amf0.String("onMetaData"), meta)

	w := bitio.NewWriteBuffer(256)
	if err := amf0.Encode(w, amf0.String(setDataFrameCommand)); err != nil {
		t.Fatal(err)
	}
	w.WriteBytes(rest)
	body := w.Take()

	rawFrame, got, err := ParseDataAMF0(body)
	if err != nil {
		t.Fatalf("ParseDataAMF0: %v", err)
	}
	if string(rawFrame) != string(rest) {
		t.Fatalf("rawFrame not preserved exactly: got %d bytes want %d bytes", len(rawFrame), len(rest))
	}
	if got.Width != 1920 || got.Height != 1080 {
		t.Fatalf("unexpected dimensions: %+v", got)
	}
	if got.VideoCodecID != "7" {
		t.Fatalf("VideoCodecID: got %q want %q (stringified number)", got.VideoCodecID, "7")
	}
	if got.AudioCodecID != "mp4a" {
		t.Fatalf("AudioCodecID: got %q", got.AudioCodecID)
	}
}

func TestParseDataAMF0RejectsWrongLeadingString(t *testing.T) {
	body := encodeCommandBody(t, amf0.String("notSetDataFrame"), amf0.String("onMetaData"))
	if _, _, err := ParseDataAMF0(body); err == nil {
		t.Fatal("expected error for body not starting with @setDataFrame")
	}
}

func TestPeekCommandName(t *testing.T) {
	body := encodeCommandBody(t, amf0.String("publish"), amf0.Number(1))
	name, err := PeekCommandName(body)
	if err != nil {
		t.Fatalf("PeekCommandName: %v", err)
	}
	if name != "publish" {
		t.Fatalf("got %q want %q", name, "publish")
	}
}

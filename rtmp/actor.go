package rtmp

// Actor is the external collaborator that receives decoded RTMP events
// from the protocol engine — typically something that re-muxes the live
// stream into a container format and hands it to an HTTP uploader. The
// connection driver owns no media-forwarding logic itself; every callback
// here runs on the connection's own goroutine and may block.
//
// Returning false from any call aborts the connection: the driver closes
// the socket and invokes OnDisconnect exactly once.
type Actor interface {
	// OnConnect is invoked on receipt of each "connect" command. A second
	// "connect" on the same connection is not rejected by the driver and
	// invokes OnConnect again. Returning false rejects the connection
	// before any response is sent.
	OnConnect(cmd *ConnectCmd) bool

	// OnDisconnect is the terminal callback, invoked exactly once when
	// the connection closes for any reason (including a prior callback
	// returning false).
	OnDisconnect()

	// OnCreateStream is invoked when the client requests a new message
	// stream, before the stream id is returned to the client.
	OnCreateStream(newStreamID uint32) bool

	// OnPublish is invoked on receipt of a "publish" command, after the
	// trailing "?query" has already been stripped from name.
	OnPublish(streamID uint32, name string) bool

	// OnMetadata is invoked on receipt of an "@setDataFrame"/"onMetaData"
	// data message for streamID.
	OnMetadata(streamID uint32, meta *MetaData) bool

	// OnMedia is invoked for every reassembled audio or video message on
	// streamID, in arrival order.
	OnMedia(streamID uint32, isVideo bool, msg Message) bool
}

// Package streamrecord records the compressed frames of a single RTSP stream
// to a file or to standard output.
//
// The package owns the capture lifecycle only. Protocol negotiation and
// depacketization are delegated to a StreamingClient (see internal/rtsp for
// the gortsplib implementation and internal/gstreamer for the GStreamer one).
//
// # Quick Start
//
//	sink, err := streamrecord.OpenSink("out.264") // or "-" for stdout
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	sup := streamrecord.NewSupervisor(rtsp.NewClient(), sink)
//	code := sup.Run(ctx, streamrecord.Config{
//	    SourceURL: "rtsp://10.17.4.118/Streaming/Channels/1",
//	    Transport: streamrecord.TransportUDP,
//	    Duration:  10 * time.Second,
//	})
//	os.Exit(int(code))
//
// # Lifecycle
//
// A CaptureSession moves NotStarted → Running → Stopped. Stopped is terminal
// and is reached exactly once, from whichever origin comes first:
//
//   - the Supervisor's deadline
//   - SIGINT / SIGTERM
//   - a failed sink write inside the frame callback
//   - the client's event loop returning on its own
//
// The frame callback never blocks on shutdown and never calls back into the
// client: a sink failure only flips the state and closes Stopping(), and the
// Supervisor performs the stop, the worker join and the sink close from its
// own goroutine.
//
// # Frames after stop
//
// Delivery and the transition to Stopped are serialized by one mutex. Frames
// that entered delivery before the transition are written; frames delivered
// afterwards (while the client unwinds) are dropped and counted in
// Stats.FramesDropped. Once RequestShutdown returns the sink is closed and
// no further write can happen.
//
// # Thread Safety
//
// Start, RequestShutdown, State, Stats, Err and Stopping are safe to call
// from any goroutine. RequestShutdown must not be called from inside a
// FrameFunc.
package streamrecord

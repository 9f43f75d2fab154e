package streamrecord

// StreamingClient is the contract of the protocol collaborator that
// negotiates the session and depacketizes media.
//
// Implementations must guarantee:
//   - Start establishes the session and returns once it is ready to play
//   - Run blocks while processing protocol I/O and returns nil after Stop
//   - Stop is idempotent and may be called before, during or after Run
//   - onFrame receives one complete frame per call, never concurrently,
//     and its Frame must not be retained by the client after the call
type StreamingClient interface {
	// Start negotiates the session for url using the given transport.
	// Errors are connection failures (malformed URL, unreachable host,
	// protocol rejection, no supported media).
	Start(url string, transport Transport, onFrame FrameFunc) error

	// Run processes protocol events until Stop is called or the stream
	// fails. Returns nil on a requested stop.
	Run() error

	// Stop asks Run to unwind.
	Stop()
}

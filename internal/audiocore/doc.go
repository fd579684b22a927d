// Package audiocore routes the audio a user hears on a primary output device
// to a secondary output device at the same time.
//
// # Architecture Overview
//
//	Platform.Endpoints -> Catalog -> ResolveLoopback -> Negotiate -> Pipeline
//
// The primary device keeps playing on its own. The pipeline opens the
// secondary render stream, then the primary's loopback capture stream, and
// copies every captured buffer unchanged to the render side. The primary
// render stream is never opened.
//
// # Concurrency
//
// Three execution paths touch a routing session:
//
//   - the caller, which invokes Router.Start, Router.Stop and Router.Shutdown
//   - one worker goroutine per session that opens the streams and polls the
//     run flag
//   - the platform's real-time capture callback
//
// The capture callback never blocks. It hands each buffer to the render
// stream's bounded ring buffer and to optional FrameSinks, dropping and
// counting buffers that do not fit.
//
// # Platform ownership
//
// A Platform wraps the native audio context. It is reference counted; the
// Router owns one reference and releases it in Shutdown. Platform
// implementations live under sources/.
package audiocore

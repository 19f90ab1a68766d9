package proxy

import "errors"

// Sentinel errors surfaced by Pump, arena and startup operations. None
// of these propagate out of the dispatch loop; how the reactor handles
// each one is noted beside it.
var (
	// ErrFakePqReq is returned when exactly 41 bytes arrive on an
	// un-handshaken Pump with no further data: a legacy bare-MTProto
	// probe, rejected outright to avoid giving fingerprinters a tell.
	// The reactor tears the connection down.
	ErrFakePqReq = errors.New("proxy: fake pq request probe")

	// ErrReadBufferFull signals backpressure: the read buffer hit
	// MAX_READ_BUF_SIZE. It is not a teardown condition.
	ErrReadBufferFull = errors.New("proxy: read buffer full")

	// ErrWouldBlock marks a non-blocking syscall that has no data or
	// buffer space available right now. Drain absorbs it; Flush returns
	// it, and the reactor does not treat it as a failure.
	ErrWouldBlock = errors.New("proxy: would block")

	// ErrCapacityExceeded is returned by arena.Insert when the arena is
	// already at MaxPumps; Server.accept then drops the accepted socket.
	ErrCapacityExceeded = errors.New("proxy: connection capacity exceeded")

	// ErrBootstrapFailed wraps any failure to initialize a DC resolver
	// at startup, before the reactor runs.
	ErrBootstrapFailed = errors.New("proxy: bootstrap failed")
)

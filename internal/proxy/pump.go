package proxy

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/obfs2/mtproxy-relay/internal/protocol"
)

// Interest tracks which readiness events a Pump currently cares about.
// It is translated into an epoll event mask at (re-)registration time;
// Error and Hup are always delivered by the kernel regardless of
// registration and are tracked here only so dispatch can reason about
// a Pump's terminal state uniformly.
type Interest uint32

const (
	InterestReadable Interest = 1 << iota
	InterestWritable
	InterestError
	InterestHup
)

func (i Interest) has(bit Interest) bool { return i&bit != 0 }

const (
	// BufSize is the scratch buffer used for each drain() read.
	BufSize = 128 * 1024
	// MaxReadBufSize bounds the accumulated, not-yet-pulled read
	// buffer: 2 * u16::MAX, matching the original protocol's framing
	// ceiling.
	MaxReadBufSize = 131070

	// fakePqReqLen is the exact byte count of a legacy bare-MTProto
	// req_pq probe. A pre-handshake Pump that accumulates exactly this
	// many bytes is almost certainly a fingerprinting probe, not a real
	// obfuscated2 client, and is rejected outright.
	fakePqReqLen = 41

	handshakeLen = 64
)

// Pump owns one non-blocking socket and the obfuscated2 cipher state
// for it. A client-facing Pump is built with upstream (no Protocol
// until the handshake arrives); a DC-facing Pump is built with
// downstream (Protocol ready immediately, seed queued for sending).
type Pump struct {
	fd     int
	secret []byte

	proto *protocol.Protocol

	readBuf  []byte
	writeBuf []byte
	scratch  [BufSize]byte

	interest Interest
}

// upstream constructs the client-facing side of a connection pair. It
// has no Protocol until drain() completes a handshake, at which point
// it decodes using the admin-configured proxy secret so real
// obfuscated2 clients (which derive their keys from that same secret)
// pass the tag check.
func upstream(fd int, secret []byte) *Pump {
	return &Pump{
		fd:       fd,
		secret:   secret,
		interest: InterestReadable | InterestError | InterestHup,
	}
}

// downstream constructs the DC-facing side of a connection pair: it
// dials out as an obfuscated2 client of its own, so its Protocol is
// ready immediately and its write buffer starts pre-seeded with the
// fresh handshake to send. secret is the DC-facing secret handed back
// by the bootstrap; it takes no part in New's derivation but is kept
// alongside the Pump for symmetry with upstream, matching what a
// from_seed call would need if this side ever had to parse an inbound
// handshake of its own.
func downstream(fd int, secret []byte, proto *protocol.Protocol) *Pump {
	p := &Pump{
		fd:       fd,
		secret:   secret,
		proto:    proto,
		interest: InterestReadable | InterestWritable | InterestError | InterestHup,
	}
	p.writeBuf = append(p.writeBuf, proto.Seed()...)
	return p
}

// Fd returns the underlying non-blocking socket descriptor.
func (p *Pump) Fd() int { return p.fd }

// Interest returns the events the reactor should currently register
// for on this Pump's socket.
func (p *Pump) Interest() Interest { return p.interest }

// Ready reports whether the handshake has completed and push/pull may
// be used.
func (p *Pump) Ready() bool { return p.proto != nil }

// DC returns the DC index the client's handshake requested. Only
// meaningful once Ready.
func (p *Pump) DC() int {
	if p.proto == nil {
		return 0
	}
	return p.proto.DC()
}

// Push encrypts plaintext input and appends it to the write buffer,
// asserting Writable interest. A push before the handshake completes
// is dropped.
func (p *Pump) Push(input []byte) {
	if len(input) == 0 {
		return
	}
	if !p.Ready() {
		return
	}
	ct := make([]byte, len(input))
	p.proto.Enc(input, ct)
	p.writeBuf = append(p.writeBuf, ct...)
	p.interest |= InterestWritable
}

// Pull decrypts and returns the entire accumulated read buffer,
// clearing it and re-asserting Readable interest.
func (p *Pump) Pull() []byte {
	if !p.Ready() || len(p.readBuf) == 0 {
		p.interest |= InterestReadable
		return nil
	}
	out := make([]byte, len(p.readBuf))
	p.proto.Dec(p.readBuf, out)
	p.readBuf = p.readBuf[:0]
	p.interest |= InterestReadable
	return out
}

// Flush writes as much of the write buffer as the non-blocking socket
// currently accepts. A would-block stops the loop and is reported as
// ErrWouldBlock, which callers do not treat as a failure; any other
// write failure is returned as a distinct wrapped error.
func (p *Pump) Flush() error {
	for len(p.writeBuf) > 0 {
		n, err := unix.Write(p.fd, p.writeBuf)
		if err != nil {
			if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK) {
				return ErrWouldBlock
			}
			return fmt.Errorf("proxy: flush: %w", err)
		}
		if n == 0 {
			break
		}
		p.writeBuf = p.writeBuf[n:]
	}
	if len(p.writeBuf) == 0 {
		p.interest &^= InterestWritable
	}
	return nil
}

// Drain reads from the socket into the read buffer until it would
// block, the peer closes (0-length read), or the buffer reaches
// MaxReadBufSize (at which point Readable interest is dropped to apply
// backpressure). If the Pump is not yet handshaken and enough bytes
// have accumulated, the handshake is consumed and the resolved DC
// index is returned so the reactor can dial the peer.
//
// A zero-length read (the peer closing its side) is reported by
// setting closed, not by a non-nil error.
func (p *Pump) Drain() (dc int, closed bool, err error) {
	for {
		if len(p.readBuf) >= MaxReadBufSize {
			p.interest &^= InterestReadable
			return 0, false, ErrReadBufferFull
		}

		room := min(BufSize, MaxReadBufSize-len(p.readBuf))
		n, rerr := unix.Read(p.fd, p.scratch[:room])
		if rerr != nil {
			if errors.Is(rerr, unix.EAGAIN) || errors.Is(rerr, unix.EWOULDBLOCK) {
				break
			}
			return 0, false, fmt.Errorf("proxy: drain: %w", rerr)
		}
		if n == 0 {
			return 0, true, nil
		}
		p.readBuf = append(p.readBuf, p.scratch[:n]...)

		if !p.Ready() {
			switch {
			case len(p.readBuf) == fakePqReqLen:
				return 0, false, ErrFakePqReq
			case len(p.readBuf) >= handshakeLen:
				seed := append([]byte(nil), p.readBuf[:handshakeLen]...)
				rest := append([]byte(nil), p.readBuf[handshakeLen:]...)

				proto, perr := protocol.FromSeed(seed, p.secret)
				if perr != nil {
					return 0, false, perr
				}
				p.proto = proto
				p.readBuf = rest
				return proto.DC(), false, nil
			}
		}
	}

	return 0, false, nil
}

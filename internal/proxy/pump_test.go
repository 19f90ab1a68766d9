package proxy

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/binary"
	"testing"

	"golang.org/x/sys/unix"

	mcrypto "github.com/obfs2/mtproxy-relay/internal/crypto"
	"github.com/obfs2/mtproxy-relay/internal/protocol"
)

func newCTRForTest(key, iv []byte) (cipher.Stream, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewCTR(block, iv), nil
}

// socketpair returns two connected, non-blocking unix-domain socket
// fds standing in for a TCP connection's two ends, closed when the
// test finishes.
func socketpair(t *testing.T) (a, b int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		t.Fatalf("Socketpair: %v", err)
	}
	for _, fd := range fds {
		if err := unix.SetNonblock(fd, true); err != nil {
			t.Fatalf("SetNonblock: %v", err)
		}
	}
	t.Cleanup(func() {
		unix.Close(fds[0])
		unix.Close(fds[1])
	})
	return fds[0], fds[1]
}

func clientWireForSecret(t *testing.T, secret []byte, dc int16) []byte {
	t.Helper()
	wire, _ := clientWireAndStream(t, secret, dc)
	return wire
}

// clientWireAndStream builds a valid handshake and returns the live
// cipher.Stream a real client would keep using afterward to encrypt
// its subsequent application bytes.
func clientWireAndStream(t *testing.T, secret []byte, dc int16) ([]byte, cipher.Stream) {
	t.Helper()
	plain := make([]byte, 64)
	if _, err := rand.Read(plain); err != nil {
		t.Fatalf("rand.Read: %v", err)
	}
	plain[56], plain[57], plain[58], plain[59] = 0xef, 0xef, 0xef, 0xef
	binary.LittleEndian.PutUint16(plain[60:62], uint16(dc))

	encKey := mcrypto.SHA256TwoChunks(plain[8:40], secret)
	encIV := plain[40:56]
	stream, err := newCTRForTest(encKey[:], encIV)
	if err != nil {
		t.Fatalf("cipher setup: %v", err)
	}
	ciphertext := make([]byte, 64)
	stream.XORKeyStream(ciphertext, plain)

	wire := make([]byte, 64)
	copy(wire, plain[:56])
	copy(wire[56:], ciphertext[56:])
	return wire, stream
}

func TestPumpDrainFakePqReq(t *testing.T) {
	server, client := socketpair(t)
	p := upstream(server, bytes.Repeat([]byte{0}, 16))

	if _, err := unix.Write(client, make([]byte, 41)); err != nil {
		t.Fatalf("write: %v", err)
	}

	waitReadable(t, server)
	_, _, err := p.Drain()
	if err != ErrFakePqReq {
		t.Fatalf("Drain() err = %v, want ErrFakePqReq", err)
	}
}

func TestPumpDrainHandshakeResolvesDC(t *testing.T) {
	server, client := socketpair(t)
	secret := bytes.Repeat([]byte{0x11}, 16)
	p := upstream(server, secret)

	wire := clientWireForSecret(t, secret, 4)
	if _, err := unix.Write(client, wire); err != nil {
		t.Fatalf("write: %v", err)
	}

	waitReadable(t, server)
	dc, closed, err := p.Drain()
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if closed {
		t.Fatalf("Drain reported closed")
	}
	if dc != 4 {
		t.Fatalf("Drain dc = %d, want 4", dc)
	}
	if !p.Ready() {
		t.Fatalf("Pump not ready after handshake")
	}
}

func TestPumpDrainHandshakeWithTrailingBytes(t *testing.T) {
	server, client := socketpair(t)
	secret := bytes.Repeat([]byte{0x22}, 16)
	p := upstream(server, secret)

	wire, stream := clientWireAndStream(t, secret, 1)
	trailing := []byte("trailing")
	trailingCT := make([]byte, len(trailing))
	stream.XORKeyStream(trailingCT, trailing)

	payload := append(append([]byte(nil), wire...), trailingCT...)
	if _, err := unix.Write(client, payload); err != nil {
		t.Fatalf("write: %v", err)
	}

	waitReadable(t, server)
	_, _, err := p.Drain()
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if !p.Ready() {
		t.Fatalf("Pump not ready after handshake")
	}
	pulled := p.Pull()
	if !bytes.Equal(pulled, trailing) {
		t.Fatalf("pulled %q, want %q", pulled, trailing)
	}
}

func TestPumpPushFlushRoundTrip(t *testing.T) {
	server, client := socketpair(t)

	proto, err := protocol.New(rand.Reader)
	if err != nil {
		t.Fatalf("protocol.New: %v", err)
	}
	p := downstream(server, nil, proto)

	// The seed itself is queued in the write buffer at construction.
	if err := p.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	msg := []byte("relay payload")
	p.Push(msg)
	if err := p.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	got := make([]byte, 64+len(msg))
	waitReadable(t, client)
	n, err := unix.Read(client, got)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if n != len(got) {
		t.Fatalf("read %d bytes, want %d", n, len(got))
	}
	if !bytes.Equal(got[:64], proto.Seed()) {
		t.Fatalf("seed not transmitted verbatim")
	}
}

func TestPumpPushBeforeReadyIsDropped(t *testing.T) {
	server, _ := socketpair(t)
	p := upstream(server, bytes.Repeat([]byte{0}, 16))
	p.Push([]byte("ignored"))
	if len(p.writeBuf) != 0 {
		t.Fatalf("Push before handshake wrote %d bytes, want 0", len(p.writeBuf))
	}
}

func TestPumpDrainBackpressure(t *testing.T) {
	server, client := socketpair(t)
	p := upstream(server, bytes.Repeat([]byte{0}, 16))
	p.readBuf = make([]byte, MaxReadBufSize)

	_ = client
	_, _, err := p.Drain()
	if err != ErrReadBufferFull {
		t.Fatalf("Drain() err = %v, want ErrReadBufferFull", err)
	}
	if p.interest.has(InterestReadable) {
		t.Fatalf("Readable interest not cleared under backpressure")
	}
}

func waitReadable(t *testing.T, fd int) {
	t.Helper()
	pfd := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
	n, err := unix.Poll(pfd, 1000)
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if n == 0 {
		t.Fatalf("timed out waiting for fd %d to become readable", fd)
	}
}

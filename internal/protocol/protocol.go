// Package protocol implements the obfuscated2 handshake: outbound seed
// generation, inbound seed parsing, and the pair of AES-256-CTR streams
// that every Pump holds for the lifetime of a connection.
package protocol

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	mcrypto "github.com/obfs2/mtproxy-relay/internal/crypto"
)

// ErrUnknownProtocol is returned when a 64-byte handshake does not
// decode to the obfuscated2 tag after decryption.
var ErrUnknownProtocol = errors.New("protocol: unknown handshake")

// ErrUnsupportedDC is returned when the decoded DC index falls outside
// 1..5.
type ErrUnsupportedDC struct {
	Index int
}

func (e *ErrUnsupportedDC) Error() string {
	return fmt.Sprintf("protocol: unsupported dc index: %d", e.Index)
}

const (
	seedLen = 64

	tagOffset = 56
	tagLen    = 4

	forbiddenByteZero = 0xef
)

var obfuscationTag = [tagLen]byte{0xef, 0xef, 0xef, 0xef}

// forbiddenLeading32 lists the little-endian uint32 values at
// bytes[0..4) that must never appear in a freshly sampled seed: ASCII
// "HEAD", "POST", "GET ", "OPTI", and a reserved marker used by some
// middleboxes.
var forbiddenLeading32 = map[uint32]struct{}{
	0x44414548: {},
	0x54534f50: {},
	0x20544547: {},
	0x4954504f: {},
	0xeeeeeeee: {},
}

// Protocol holds the AES-256-CTR encrypt/decrypt streams derived from a
// 64-byte obfuscated2 handshake, plus the seed itself and the resolved
// DC index (only meaningful after FromSeed).
type Protocol struct {
	seed [seedLen]byte
	dc   int

	enc cipher.Stream
	dec cipher.Stream
}

// New samples a fresh outbound handshake seed and derives its cipher
// streams, reading entropy from rnd. This is the seed a Pump presents
// when it dials out to a DC as if it were an ordinary obfuscated2
// client; no proxy secret is mixed in because the far end authenticates
// the connection by source, not by secret.
func New(rnd io.Reader) (*Protocol, error) {
	var buf [seedLen]byte

	for {
		if _, err := io.ReadFull(rnd, buf[:]); err != nil {
			return nil, fmt.Errorf("protocol: read entropy: %w", err)
		}
		if buf[0] == forbiddenByteZero {
			continue
		}
		if binary.LittleEndian.Uint32(buf[4:8]) == 0 {
			continue
		}
		if _, forbidden := forbiddenLeading32[binary.LittleEndian.Uint32(buf[0:4])]; forbidden {
			continue
		}
		break
	}

	copy(buf[tagOffset:tagOffset+tagLen], obfuscationTag[:])

	keyIVEnc := buf[8:56]
	keyIVRev := reversed(keyIVEnc)

	enc, err := newCTRStream(keyIVEnc[0:32], keyIVEnc[32:48])
	if err != nil {
		return nil, err
	}
	dec, err := newCTRStream(keyIVRev[0:32], keyIVRev[32:48])
	if err != nil {
		return nil, err
	}

	var encrypted [seedLen]byte
	enc.XORKeyStream(encrypted[:], buf[:])
	copy(buf[tagOffset:], encrypted[tagOffset:])

	return &Protocol{seed: buf, dc: 0, enc: enc, dec: dec}, nil
}

// FromSeed parses a 64-byte handshake received from an inbound client,
// deriving its keys from the shared secret. The DC index (1..5) the
// client requested is available from the returned Protocol's DC().
func FromSeed(buf []byte, secret []byte) (*Protocol, error) {
	if len(buf) != seedLen {
		return nil, fmt.Errorf("protocol: handshake must be %d bytes, got %d", seedLen, len(buf))
	}

	decKeyFull := mcrypto.SHA256TwoChunks(buf[8:40], secret)
	decIV := buf[40:56]

	keyIVRev := reversed(buf[8:56])
	encKeyFull := mcrypto.SHA256TwoChunks(keyIVRev[0:32], secret)
	encIV := keyIVRev[32:48]

	dec, err := newCTRStream(decKeyFull[:], decIV)
	if err != nil {
		return nil, err
	}
	enc, err := newCTRStream(encKeyFull[:], encIV)
	if err != nil {
		return nil, err
	}

	var scratch [seedLen]byte
	dec.XORKeyStream(scratch[:], buf)

	if scratch[56] != 0xef || scratch[57] != 0xef || scratch[58] != 0xef || scratch[59] != 0xef {
		return nil, ErrUnknownProtocol
	}

	dcRaw := int16(binary.LittleEndian.Uint16(scratch[60:62]))
	dc := int(dcRaw)
	if dc < 0 {
		dc = -dc
	}
	if dc == 0 {
		dc = 1
	}
	if dc > 5 {
		return nil, &ErrUnsupportedDC{Index: dc}
	}

	p := &Protocol{dc: dc, enc: enc, dec: dec}
	copy(p.seed[:], buf)
	return p, nil
}

// Seed returns the original 64-byte handshake buffer.
func (p *Protocol) Seed() []byte {
	return p.seed[:]
}

// DC returns the resolved DC index (1..5), or 0 for a Protocol produced
// by New, which carries no client-requested DC.
func (p *Protocol) DC() int {
	return p.dc
}

// Enc encrypts input into output, advancing the encrypt stream. output
// and input may alias.
func (p *Protocol) Enc(input, output []byte) {
	p.enc.XORKeyStream(output, input)
}

// Dec decrypts input into output, advancing the decrypt stream. output
// and input may alias.
func (p *Protocol) Dec(input, output []byte) {
	p.dec.XORKeyStream(output, input)
}

func newCTRStream(key, iv []byte) (cipher.Stream, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("protocol: aes key setup: %w", err)
	}
	return cipher.NewCTR(block, iv), nil
}

func reversed(in []byte) []byte {
	out := make([]byte, len(in))
	for i, b := range in {
		out[len(in)-1-i] = b
	}
	return out
}

// Package entropy supplies the cryptographic randomness Protocol.New
// draws on when a Pump dials out to a DC and must present a fresh
// obfuscated2 seed of its own. It is kept separate from crypto/rand so
// the relay's only source of handshake entropy is swappable in one
// place.
package entropy

import (
	"io"

	drbg "github.com/sixafter/aes-ctr-drbg"
)

// Reader is an AES-256-CTR DRBG seeded from the OS entropy source,
// reseeded internally by the drbg package on its own schedule.
var Reader io.Reader = drbg.Reader

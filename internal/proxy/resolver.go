package proxy

import (
	"fmt"
	"io"

	"github.com/obfs2/mtproxy-relay/internal/prng"
)

// Endpoint is a single dialable DC address.
type Endpoint struct {
	Host string
	Port int
}

func (e Endpoint) String() string {
	return fmt.Sprintf("%s:%d", e.Host, e.Port)
}

// DCResolver supplies the DC-facing secret and address list the
// reactor needs once a client's handshake has named a DC index. It is
// built once at startup and never mutated afterward.
type DCResolver interface {
	Secret() []byte
	Addrs(dcIndex int) []Endpoint
	Pick(dcIndex int) (Endpoint, bool)
}

// StaticResolver implements DCResolver over a fixed table, typically
// populated once from the bootstrap fetch at startup.
type StaticResolver struct {
	secret []byte
	table  map[int][]Endpoint
	rnd    io.Reader
}

// NewStaticResolver builds a resolver over a fixed DC table. rnd
// supplies the uniform randomness Pick uses to select among multiple
// addresses for the same DC; it is not a cryptographic use, so callers
// typically pass a non-crypto PRNG source.
func NewStaticResolver(secret []byte, table map[int][]Endpoint, rnd io.Reader) *StaticResolver {
	return &StaticResolver{secret: secret, table: table, rnd: rnd}
}

func (r *StaticResolver) Secret() []byte { return r.secret }

func (r *StaticResolver) Addrs(dcIndex int) []Endpoint {
	return r.table[dcIndex]
}

func (r *StaticResolver) Pick(dcIndex int) (Endpoint, bool) {
	addrs := r.table[dcIndex]
	if len(addrs) == 0 {
		return Endpoint{}, false
	}
	if len(addrs) == 1 {
		return addrs[0], true
	}
	idx, err := prng.Intn(r.rnd, len(addrs))
	if err != nil {
		return addrs[0], true
	}
	return addrs[idx], true
}

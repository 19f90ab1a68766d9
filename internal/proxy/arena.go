package proxy

// MaxPumps bounds the number of simultaneously open connections. It
// mirrors the Rust original's slab capacity; accepts beyond this
// return ErrCapacityExceeded.
const MaxPumps = 262144

// Token addresses a Pump inside the arena. RootToken is reserved for
// the listener socket and is never handed out by Insert.
type Token uint32

// RootToken identifies the listener in the event dispatch loop.
const RootToken Token = 0

// arena is a dense, index-reusing slab of Pumps, grounded on the same
// free-list-over-slice pattern the Rust original gets from the `slab`
// crate: Insert reuses the most recently freed slot before growing,
// Remove pushes the slot back onto the free list instead of shifting
// memory.
type arena struct {
	slots []*Pump
	free  []Token
}

func newArena() *arena {
	return &arena{
		// Slot 0 is reserved for RootToken and is never populated with
		// a Pump.
		slots: make([]*Pump, 1, 256),
	}
}

func (a *arena) Len() int {
	return len(a.slots) - 1 - len(a.free)
}

func (a *arena) Insert(p *Pump) (Token, error) {
	if a.Len() >= MaxPumps {
		return 0, ErrCapacityExceeded
	}
	if n := len(a.free); n > 0 {
		tok := a.free[n-1]
		a.free = a.free[:n-1]
		a.slots[tok] = p
		return tok, nil
	}
	tok := Token(len(a.slots))
	a.slots = append(a.slots, p)
	return tok, nil
}

func (a *arena) Get(tok Token) (*Pump, bool) {
	if tok == RootToken || int(tok) >= len(a.slots) {
		return nil, false
	}
	p := a.slots[tok]
	return p, p != nil
}

func (a *arena) Remove(tok Token) {
	if tok == RootToken || int(tok) >= len(a.slots) {
		return
	}
	if a.slots[tok] == nil {
		return
	}
	a.slots[tok] = nil
	a.free = append(a.free, tok)
}

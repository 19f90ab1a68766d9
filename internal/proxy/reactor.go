package proxy

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/obfs2/mtproxy-relay/internal/entropy"
	"github.com/obfs2/mtproxy-relay/internal/protocol"
)

const eventBatchSize = 1024

// Logf is the reactor's logging hook, matching the teacher's pattern
// of writing to a configurable sink rather than a global logger.
type Logf func(format string, args ...any)

// Server is the single-threaded, edge-triggered reactor that accepts
// client connections, completes their obfuscated2 handshake, dials the
// resolved DC, and relays bytes between the two until either side
// closes.
type Server struct {
	listenFd int
	sel      *selector

	resolver DCResolver
	secret   []byte

	arena    *arena
	fdToken  map[int]Token
	links    map[Token]Token
	detached map[Token]struct{}

	verbosity int
	log       Logf
}

// NewServer creates a reactor around an already-bound, already-
// listening, non-blocking socket fd. resolver supplies DC-facing
// addresses and the DC-facing secret for outbound dials; secret is the
// admin-configured proxy secret that inbound client handshakes are
// decoded against. verbosity controls how much connection-lifecycle
// detail log emits; failures are always logged regardless of it.
func NewServer(listenFd int, resolver DCResolver, secret []byte, verbosity int, log Logf) (*Server, error) {
	sel, err := newSelector()
	if err != nil {
		return nil, fmt.Errorf("proxy: create selector: %w", err)
	}
	if log == nil {
		log = func(string, ...any) {}
	}
	return &Server{
		listenFd:  listenFd,
		sel:       sel,
		resolver:  resolver,
		secret:    secret,
		arena:     newArena(),
		fdToken:   make(map[int]Token),
		links:     make(map[Token]Token),
		detached:  make(map[Token]struct{}),
		verbosity: verbosity,
		log:       log,
	}, nil
}

// logInfo emits connection-lifecycle detail, shown only once verbosity
// has been raised past its default; unlike log it is never used for
// failures.
func (s *Server) logInfo(format string, args ...any) {
	if s.verbosity > 0 {
		s.log(format, args...)
	}
}

// Run registers the listener and drives the readiness loop forever.
// It only returns on an unrecoverable selector error.
func (s *Server) Run() error {
	s.logInfo("starting proxy reactor")

	listenerEv := unix.EpollEvent{Events: unix.EPOLLIN | unix.EPOLLET, Fd: int32(s.listenFd)}
	if err := unix.EpollCtl(s.sel.epfd, unix.EPOLL_CTL_ADD, s.listenFd, &listenerEv); err != nil {
		return fmt.Errorf("proxy: register listener: %w", err)
	}

	events := make([]unix.EpollEvent, eventBatchSize)
	for {
		n, err := s.sel.Wait(events)
		if err != nil {
			return fmt.Errorf("proxy: selector wait: %w", err)
		}
		s.dispatch(events[:n])
	}
}

type pendingPeer struct {
	owner Token
	pump  *Pump
}

// dispatch handles one batch of readiness events: accept on the
// listener, drain/fan-out/flush/fan-in per connection, then pairing
// and garbage collection once the whole batch has been processed.
func (s *Server) dispatch(events []unix.EpollEvent) {
	var stale []Token
	var pending []pendingPeer

	for _, ev := range events {
		if int(ev.Fd) == s.listenFd {
			s.accept()
			continue
		}

		tok, ok := s.fdToken[int(ev.Fd)]
		if !ok {
			s.log("slab inconsistency: unknown fd %d", ev.Fd)
			continue
		}
		pump, ok := s.arena.Get(tok)
		if !ok {
			s.log("slab inconsistency: token %d has no pump", tok)
			continue
		}

		wentStale := false

		if ev.Events&unix.EPOLLIN != 0 {
			dc, closed, err := pump.Drain()
			switch {
			case err != nil && err != ErrReadBufferFull:
				s.log("drain failed for token %d: %v", tok, err)
				stale = append(stale, tok)
				wentStale = true
			case closed:
				stale = append(stale, tok)
				wentStale = true
			case dc != 0:
				peer, perr := s.dialPeer(dc, pump)
				if perr != nil {
					s.log("dial to dc %d failed: %v", dc, perr)
					stale = append(stale, tok)
					wentStale = true
				} else {
					pending = append(pending, pendingPeer{owner: tok, pump: peer})
				}
			}

			if !wentStale {
				if peerTok, linked := s.links[tok]; linked {
					if buf := pump.Pull(); len(buf) > 0 {
						if peer, ok := s.arena.Get(peerTok); ok {
							peer.Push(buf)
						}
					}
				}
			}
		}

		if !wentStale && ev.Events&unix.EPOLLOUT != 0 {
			if peerTok, linked := s.links[tok]; linked {
				if peer, ok := s.arena.Get(peerTok); ok {
					if buf := peer.Pull(); len(buf) > 0 {
						pump.Push(buf)
					}
				}
			}
			if err := pump.Flush(); err != nil && err != ErrWouldBlock {
				s.log("flush failed for token %d: %v", tok, err)
				stale = append(stale, tok)
				wentStale = true
			}
		}

		if !wentStale && ev.Events&(unix.EPOLLHUP|unix.EPOLLERR) != 0 {
			stale = append(stale, tok)
			wentStale = true
		}

		if !wentStale {
			if err := s.sel.Modify(pump.Fd(), pump.Interest()); err != nil {
				s.log("re-register failed for token %d: %v", tok, err)
				stale = append(stale, tok)
			}
		}
	}

	for _, pp := range pending {
		s.registerPeer(pp.owner, pp.pump)
	}

	for tok := range s.detached {
		pump, ok := s.arena.Get(tok)
		if !ok || !pump.Interest().has(InterestWritable) {
			stale = append(stale, tok)
		}
	}

	for _, tok := range stale {
		s.teardown(tok)
	}
}

// accept admits one pending connection, rejecting it outright when the
// arena is at capacity.
func (s *Server) accept() {
	fd, _, err := unix.Accept4(s.listenFd, unix.SOCK_NONBLOCK)
	if err != nil {
		if err != unix.EAGAIN {
			s.log("accept failed: %v", err)
		}
		return
	}

	pump := upstream(fd, s.secret)
	tok, err := s.arena.Insert(pump)
	if err != nil {
		s.log("connection capacity exceeded, dropping accepted socket")
		unix.Close(fd)
		return
	}

	s.fdToken[fd] = tok
	if err := s.sel.Add(fd, pump.Interest()); err != nil {
		s.log("register failed for token %d: %v", tok, err)
		s.teardown(tok)
		return
	}
	s.logInfo("new connection: token %d", tok)
}

// dialPeer connects a new non-blocking socket to the DC endpoint
// resolved for dc, builds its downstream Pump, and pushes any bytes
// already decrypted on the client side into it.
func (s *Server) dialPeer(dc int, client *Pump) (*Pump, error) {
	ep, ok := s.resolver.Pick(dc)
	if !ok {
		return nil, fmt.Errorf("no endpoint configured for dc %d", dc)
	}

	fd, err := dialNonBlocking(ep)
	if err != nil {
		return nil, err
	}

	proto, err := protocol.New(entropy.Reader)
	if err != nil {
		unix.Close(fd)
		return nil, err
	}

	peer := downstream(fd, s.resolver.Secret(), proto)
	if buf := client.Pull(); len(buf) > 0 {
		peer.Push(buf)
	}
	return peer, nil
}

// registerPeer inserts a dialed peer into the arena, links it
// symmetrically to its owner, and registers its socket.
func (s *Server) registerPeer(owner Token, peer *Pump) {
	tok, err := s.arena.Insert(peer)
	if err != nil {
		s.log("connection capacity exceeded registering dc peer, dropping")
		unix.Close(peer.Fd())
		return
	}
	s.fdToken[peer.Fd()] = tok
	s.links[owner] = tok
	s.links[tok] = owner

	if err := s.sel.Add(peer.Fd(), peer.Interest()); err != nil {
		s.log("register failed for peer token %d: %v", tok, err)
		s.teardown(tok)
		return
	}
	s.logInfo("paired token %d with dc peer %d", owner, tok)
}

// teardown removes tok from the arena and selector. If it had a linked
// peer, the link is dropped and the peer is either torn down
// immediately (nothing left to flush) or moved to the detached set to
// finish flushing on its own.
func (s *Server) teardown(tok Token) {
	pump, ok := s.arena.Get(tok)
	if !ok {
		return
	}
	s.logInfo("tearing down token %d", tok)

	_ = s.sel.Remove(pump.Fd())
	unix.Close(pump.Fd())
	delete(s.fdToken, pump.Fd())
	s.arena.Remove(tok)
	delete(s.detached, tok)

	peerTok, linked := s.links[tok]
	if !linked {
		return
	}
	delete(s.links, tok)
	delete(s.links, peerTok)

	if peer, ok := s.arena.Get(peerTok); ok {
		if peer.Interest().has(InterestWritable) {
			s.detached[peerTok] = struct{}{}
		} else {
			s.teardown(peerTok)
		}
	}
}

//go:build linux

package proxy

import "golang.org/x/sys/unix"

// selector wraps a raw Linux epoll instance. It exists as a thin,
// testable seam between the reactor's dispatch logic and the
// edge-triggered, one-shot kernel primitive it relies on; Server never
// touches unix.Epoll* directly.
type selector struct {
	epfd int
}

func newSelector() (*selector, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &selector{epfd: fd}, nil
}

func (s *selector) Close() error {
	return unix.Close(s.epfd)
}

// interestMask translates a Pump's read/write Interest into an
// edge-triggered, one-shot epoll event mask. Error and Hup are
// implicit in epoll and never appear in the registered mask.
func interestMask(i Interest) uint32 {
	var ev uint32 = unix.EPOLLET | unix.EPOLLONESHOT
	if i.has(InterestReadable) {
		ev |= unix.EPOLLIN
	}
	if i.has(InterestWritable) {
		ev |= unix.EPOLLOUT
	}
	return ev
}

// Add registers fd for edge-triggered, one-shot notifications. The
// reactor keeps its own fd-to-token map to recover which Pump an
// EpollEvent.Fd belongs to; the selector only ever deals in raw fds.
func (s *selector) Add(fd int, i Interest) error {
	ev := unix.EpollEvent{Events: interestMask(i), Fd: int32(fd)}
	return unix.EpollCtl(s.epfd, unix.EPOLL_CTL_ADD, fd, &ev)
}

func (s *selector) Modify(fd int, i Interest) error {
	ev := unix.EpollEvent{Events: interestMask(i), Fd: int32(fd)}
	return unix.EpollCtl(s.epfd, unix.EPOLL_CTL_MOD, fd, &ev)
}

func (s *selector) Remove(fd int) error {
	return unix.EpollCtl(s.epfd, unix.EPOLL_CTL_DEL, fd, nil)
}

// Wait blocks until at least one event is ready, with no timeout
// (mirroring the reactor's single poll-and-dispatch loop), and returns
// the ready batch.
func (s *selector) Wait(events []unix.EpollEvent) (int, error) {
	for {
		n, err := unix.EpollWait(s.epfd, events, -1)
		if err == unix.EINTR {
			continue
		}
		return n, err
	}
}

package main

import (
	"encoding/hex"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/obfs2/mtproxy-relay/internal/cli"
	"github.com/obfs2/mtproxy-relay/internal/proxy"
)

const fullVersion = "mtproxy-relay-dev"

func main() {
	opts, err := cli.Parse(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		fmt.Fprint(os.Stderr, cli.Usage(os.Args[0], fullVersion))
		os.Exit(1)
	}
	if opts.ShowHelp {
		fmt.Print(cli.Usage(os.Args[0], fullVersion))
		return
	}

	logw, err := newReopenableLogWriter("mtproto-proxy.log")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer logw.Close()

	logf := func(format string, args ...any) {
		fmt.Fprintf(logw, format+"\n", args...)
	}

	resolver, err := proxy.Bootstrap(opts.EnableIPv6)
	if err != nil {
		logf("bootstrap failed: %v", err)
		fmt.Fprintf(os.Stderr, "bootstrap failed: %v\n", err)
		os.Exit(1)
	}

	listenFd, err := listen(opts.Addr)
	if err != nil {
		logf("listen failed: %v", err)
		fmt.Fprintf(os.Stderr, "listen failed: %v\n", err)
		os.Exit(1)
	}

	server, err := proxy.NewServer(listenFd, resolver, opts.Secret[:], opts.Verbosity, logf)
	if err != nil {
		logf("server init failed: %v", err)
		fmt.Fprintf(os.Stderr, "server init failed: %v\n", err)
		os.Exit(1)
	}

	if !opts.Quiet {
		fmt.Printf("Secret: %s\n", hex.EncodeToString(opts.Secret[:]))
	}
	logf("listening on %s", opts.Addr)

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGUSR1)
	go func() {
		for range sigc {
			if err := logw.Reopen(); err != nil {
				logf("log reopen failed: %v", err)
			}
		}
	}()

	term := make(chan os.Signal, 1)
	signal.Notify(term, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-term
		logf("shutting down")
		os.Exit(0)
	}()

	if err := server.Run(); err != nil {
		logf("reactor exited: %v", err)
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// listen creates a non-blocking listening socket bound to addr,
// outside the reactor itself so Run() never performs setup syscalls.
func listen(addr string) (int, error) {
	host, port, err := splitHostPort(addr)
	if err != nil {
		return 0, err
	}

	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_NONBLOCK, 0)
	if err != nil {
		return 0, fmt.Errorf("socket: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return 0, fmt.Errorf("setsockopt SO_REUSEADDR: %w", err)
	}

	sa := &unix.SockaddrInet4{Port: port, Addr: host}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return 0, fmt.Errorf("bind %s: %w", addr, err)
	}
	if err := unix.Listen(fd, 1024); err != nil {
		unix.Close(fd)
		return 0, fmt.Errorf("listen %s: %w", addr, err)
	}
	return fd, nil
}

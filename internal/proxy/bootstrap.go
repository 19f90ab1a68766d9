package proxy

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/obfs2/mtproxy-relay/internal/prng"
)

const bootstrapBase = "https://core.telegram.org"

// Bootstrap fetches the DC-facing secret and address table from
// Telegram's HTTPS config endpoints and builds a StaticResolver over
// them. Any failure here is BootstrapFailed and aborts startup; the
// resolver is never refreshed afterward.
func Bootstrap(ipv6 bool) (*StaticResolver, error) {
	secret, err := fetchBody(bootstrapBase + "/getProxySecret")
	if err != nil {
		return nil, fmt.Errorf("%w: fetch secret: %v", ErrBootstrapFailed, err)
	}

	path := "/getProxyConfig"
	if ipv6 {
		path = "/getProxyConfigV6"
	}
	body, err := fetchBody(bootstrapBase + path)
	if err != nil {
		return nil, fmt.Errorf("%w: fetch config: %v", ErrBootstrapFailed, err)
	}

	table, err := parseProxyConfig(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBootstrapFailed, err)
	}

	return NewStaticResolver(secret, table, prng.Reader), nil
}

func fetchBody(url string) ([]byte, error) {
	resp, err := http.Get(url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}
	return io.ReadAll(resp.Body)
}

// parseProxyConfig reads lines of the form
// "proxy_for <dc_index> <host:port>;" and groups endpoints by DC
// index. Lines that don't start with "proxy_for" are ignored.
func parseProxyConfig(body []byte) (map[int][]Endpoint, error) {
	table := make(map[int][]Endpoint)

	scanner := bufio.NewScanner(strings.NewReader(string(body)))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "proxy_for") {
			continue
		}

		fields := strings.SplitN(line, " ", 3)
		if len(fields) != 3 {
			return nil, fmt.Errorf("malformed proxy_for line: %q", line)
		}

		dc, err := strconv.Atoi(fields[1])
		if err != nil {
			return nil, fmt.Errorf("malformed dc index in %q: %w", line, err)
		}

		addr := strings.TrimSuffix(strings.TrimSpace(fields[2]), ";")
		host, portStr, err := net.SplitHostPort(addr)
		if err != nil {
			return nil, fmt.Errorf("malformed endpoint in %q: %w", line, err)
		}
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return nil, fmt.Errorf("malformed port in %q: %w", line, err)
		}

		table[dc] = append(table[dc], Endpoint{Host: host, Port: port})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	return table, nil
}

package cli

import (
	"strings"
	"testing"
)

func TestUsageContainsExpectedMarkers(t *testing.T) {
	out := Usage("mtproto-proxy", "mtproxy-go-dev")

	for _, marker := range []string{
		"usage:",
		"Obfuscated2 MTProto relay",
		"-a, --addr",
		"-s, --secret",
		"--ipv6",
		"--tag",
		"-v, --verbose",
		"-q, --quiet",
	} {
		if !strings.Contains(out, marker) {
			t.Fatalf("usage output does not contain %q:\n%s", marker, out)
		}
	}
}

package cli

import "fmt"

const ShortDescription = "Obfuscated2 MTProto relay"

func Usage(progname, fullVersion string) string {
	return fmt.Sprintf(
		"usage: %s [-a <host:port>] -s <hex-secret> [--ipv6] [--tag <hex>] [-v] [-q]\n%s\n\t%s\n\t-a, --addr\tlistening address (default 0.0.0.0:1984)\n\t-s, --secret\t16-byte proxy secret, hex-encoded\n\t--ipv6\tselect IPv6 addresses from the DC bootstrap\n\t--tag\tadvertised promotional tag, hex-encoded\n\t-v, --verbose\tincrease log verbosity\n\t-q, --quiet\tsilence informational output\n",
		progname,
		fullVersion,
		ShortDescription,
	)
}

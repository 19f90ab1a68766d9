package proxy

import (
	"bytes"
	"testing"
)

func TestStaticResolverSecretAndAddrs(t *testing.T) {
	table := map[int][]Endpoint{
		2: {{Host: "149.154.167.51", Port: 443}},
	}
	r := NewStaticResolver([]byte("s3cr3t"), table, bytes.NewReader(make([]byte, 64)))

	if string(r.Secret()) != "s3cr3t" {
		t.Fatalf("Secret() = %q", r.Secret())
	}
	addrs := r.Addrs(2)
	if len(addrs) != 1 || addrs[0].Port != 443 {
		t.Fatalf("Addrs(2) = %+v", addrs)
	}
}

func TestStaticResolverPickSingleAddr(t *testing.T) {
	table := map[int][]Endpoint{1: {{Host: "1.2.3.4", Port: 80}}}
	r := NewStaticResolver(nil, table, bytes.NewReader(nil))

	ep, ok := r.Pick(1)
	if !ok || ep.Host != "1.2.3.4" {
		t.Fatalf("Pick(1) = %+v, %v", ep, ok)
	}
}

func TestStaticResolverPickMissingDC(t *testing.T) {
	r := NewStaticResolver(nil, map[int][]Endpoint{}, bytes.NewReader(nil))
	if _, ok := r.Pick(9); ok {
		t.Fatalf("Pick(9) on an empty table unexpectedly succeeded")
	}
}

func TestStaticResolverPickAmongMultiple(t *testing.T) {
	table := map[int][]Endpoint{
		3: {{Host: "a", Port: 1}, {Host: "b", Port: 2}},
	}
	// Enough deterministic entropy bytes to pick one of the two addrs.
	entropy := bytes.NewReader([]byte{0x00, 0x00, 0x00, 0x00})
	r := NewStaticResolver(nil, table, entropy)

	ep, ok := r.Pick(3)
	if !ok {
		t.Fatalf("Pick(3) failed")
	}
	if ep.Host != "a" && ep.Host != "b" {
		t.Fatalf("Pick(3) returned unexpected endpoint %+v", ep)
	}
}

func TestEndpointString(t *testing.T) {
	e := Endpoint{Host: "example.org", Port: 443}
	if e.String() != "example.org:443" {
		t.Fatalf("String() = %q", e.String())
	}
}

package safenet

import (
	"net/netip"
	"testing"
)

func TestIsReserved(t *testing.T) {
	tests := []struct {
		addr string
		want bool
	}{
		{"127.0.0.1", true},
		{"10.1.2.3", true},
		{"192.168.0.10", true},
		{"169.254.169.254", true},
		{"::1", true},
		{"fe80::1", true},
		{"::ffff:10.0.0.1", true}, // v4-mapped
		{"8.8.8.8", false},
		{"93.184.216.34", false},
		{"2606:4700::1111", false},
	}
	for _, tt := range tests {
		if got := IsReserved(netip.MustParseAddr(tt.addr)); got != tt.want {
			t.Errorf("IsReserved(%s) = %v, want %v", tt.addr, got, tt.want)
		}
	}
}

func TestDialControl(t *testing.T) {
	if err := DialControl("tcp", "127.0.0.1:80", nil); err == nil {
		t.Fatal("expected loopback to be blocked")
	}
	if err := DialControl("tcp", "8.8.8.8:53", nil); err != nil {
		t.Fatalf("public address blocked: %v", err)
	}
	if err := DialControl("tcp", "not-an-ip:80", nil); err == nil {
		t.Fatal("expected unparseable host to be blocked")
	}
}

func TestMaybeDialControl(t *testing.T) {
	if MaybeDialControl(true) != nil {
		t.Fatal("expected nil control when private targets allowed")
	}
	if MaybeDialControl(false) == nil {
		t.Fatal("expected control when private targets disallowed")
	}
}

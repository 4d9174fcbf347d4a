package iputil

import "testing"

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		version Version
		wantErr bool
	}{
		{"ipv4", "8.8.8.8", V4, false},
		{"ipv4 zeroes", "0.0.0.0", V4, false},
		{"ipv6", "2001:4860:4860::8888", V6, false},
		{"ipv6 loopback", "::1", V6, false},
		{"ipv4 mapped", "::ffff:192.0.2.1", V4, false},
		{"empty", "", 0, true},
		{"hostname", "example.com", 0, true},
		{"with port", "8.8.8.8:53", 0, true},
		{"overflow octet", "256.1.1.1", 0, true},
		{"zoned", "fe80::1%eth0", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, v, err := Parse(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Parse(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if !tt.wantErr && v != tt.version {
				t.Errorf("Parse(%q) version = %d, want %d", tt.input, v, tt.version)
			}
		})
	}
}

func TestIsReserved(t *testing.T) {
	tests := []struct {
		ip       string
		reserved bool
	}{
		{"0.1.2.3", true},
		{"10.0.0.5", true},
		{"127.0.0.1", true},
		{"169.254.10.10", true},
		{"172.16.0.1", true},
		{"172.31.255.255", true},
		{"172.32.0.1", false},
		{"192.168.1.1", true},
		{"224.0.0.1", true},
		{"240.0.0.1", true},
		{"255.255.255.255", true},
		{"8.8.8.8", false},
		{"1.1.1.1", false},
		{"::1", true},
		{"fe80::1", true},
		{"fd12:3456::1", true},
		{"ff02::1", true},
		{"2001:4860:4860::8888", false},
	}

	for _, tt := range tests {
		t.Run(tt.ip, func(t *testing.T) {
			addr, _, err := Parse(tt.ip)
			if err != nil {
				t.Fatalf("Parse(%q): %v", tt.ip, err)
			}
			if got := IsReserved(addr); got != tt.reserved {
				t.Errorf("IsReserved(%s) = %v, want %v", tt.ip, got, tt.reserved)
			}
		})
	}
}

func TestInRange(t *testing.T) {
	tests := []struct {
		name string
		ip   string
		cidr string
		want bool
	}{
		{"v4 inside", "192.0.2.55", "192.0.2.0/24", true},
		{"v4 outside", "192.0.3.1", "192.0.2.0/24", false},
		{"v4 exact host", "203.0.113.7", "203.0.113.7/32", true},
		{"v4 wide", "45.33.1.2", "45.32.0.0/12", true},
		{"v6 inside", "2001:db8::42", "2001:db8::/32", true},
		{"v6 outside", "2001:db9::1", "2001:db8::/32", false},
		{"v6 odd mask", "2001:db8:8000::1", "2001:db8:8000::/33", true},
		{"version mismatch", "192.0.2.1", "2001:db8::/32", false},
		{"malformed cidr", "192.0.2.1", "not-a-cidr", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			addr, _, err := Parse(tt.ip)
			if err != nil {
				t.Fatalf("Parse(%q): %v", tt.ip, err)
			}
			if got := InRange(addr, tt.cidr); got != tt.want {
				t.Errorf("InRange(%s, %s) = %v, want %v", tt.ip, tt.cidr, got, tt.want)
			}
		})
	}
}

func TestInAnyRange(t *testing.T) {
	addr, _, _ := Parse("100.64.1.2")
	if !InAnyRange(addr, []string{"10.0.0.0/8", "100.64.0.0/10"}) {
		t.Error("expected match in second range")
	}
	if InAnyRange(addr, []string{"10.0.0.0/8"}) {
		t.Error("unexpected match")
	}
	if InAnyRange(addr, nil) {
		t.Error("empty range list must not match")
	}
}

func BenchmarkIsReserved(b *testing.B) {
	addr, _, _ := Parse("8.8.8.8")
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		IsReserved(addr)
	}
}

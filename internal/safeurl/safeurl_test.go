package safeurl

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"testing"
)

func TestParse(t *testing.T) {
	u, err := Parse("  HTTPS://Shop.example/p?q=1#frag ")
	if err != nil {
		t.Fatal(err)
	}
	if got := u.String(); got != "https://Shop.example/p?q=1" {
		t.Errorf("got %q", got)
	}

	for _, in := range []string{"", "shop.example", "ftp://shop.example/", "http://", "javascript:alert(1)", "http://%zz"} {
		if _, err := Parse(in); !errors.Is(err, ErrScheme) {
			t.Errorf("%q: got %v, want ErrScheme", in, err)
		}
	}
}

func TestIsPrivate(t *testing.T) {
	tests := []struct {
		addr string
		want bool
	}{
		{"127.0.0.1", true},
		{"10.1.2.3", true},
		{"172.20.0.1", true},
		{"192.168.1.1", true},
		{"169.254.169.254", true},
		{"100.64.0.1", true},
		{"0.0.0.0", true},
		{"::1", true},
		{"fd00::1", true},
		{"fe80::1", true},
		{"::ffff:10.0.0.1", true},
		{"93.184.216.34", false},
		{"2606:4700::1111", false},
	}
	for _, tt := range tests {
		if got := IsPrivate(netip.MustParseAddr(tt.addr)); got != tt.want {
			t.Errorf("%s: got %v, want %v", tt.addr, got, tt.want)
		}
	}
}

type fakeResolver map[string][]netip.Addr

func (f fakeResolver) LookupNetIP(_ context.Context, _, host string) ([]netip.Addr, error) {
	addrs, ok := f[host]
	if !ok {
		return nil, errors.New("no such host")
	}
	return addrs, nil
}

func TestCheckPublic(t *testing.T) {
	r := fakeResolver{
		"shop.example":     {netip.MustParseAddr("93.184.216.34")},
		"internal.example": {netip.MustParseAddr("93.184.216.34"), netip.MustParseAddr("10.0.0.7")},
	}
	tests := []struct {
		url     string
		private bool
	}{
		{"https://shop.example/", false},
		{"https://internal.example/", true},
		{"https://unresolvable.example/", false},
		{"http://127.0.0.1:8080/", true},
		{"http://[::1]/", true},
		{"http://localhost/", true},
		{"http://app.localhost/", true},
		{"http://93.184.216.34/", false},
	}
	for _, tt := range tests {
		u, err := Parse(tt.url)
		if err != nil {
			t.Fatal(err)
		}
		err = CheckPublic(context.Background(), r, u)
		if got := errors.Is(err, ErrPrivate); got != tt.private {
			t.Errorf("%s: got %v", tt.url, err)
		}
	}
}

func TestCheckRedirect(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "http://127.0.0.1:8080/admin", nil)
	if err := CheckRedirect(req, []*http.Request{req}); !errors.Is(err, ErrPrivate) {
		t.Errorf("redirect to loopback: got %v", err)
	}

	pub := httptest.NewRequest(http.MethodGet, "http://93.184.216.34/", nil)
	via := make([]*http.Request, 10)
	if err := CheckRedirect(pub, via); err == nil {
		t.Error("expected redirect limit error")
	}
}

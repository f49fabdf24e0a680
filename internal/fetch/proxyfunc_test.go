package fetch

import (
	"net/http"
	"testing"
)

func TestNewProxyFunc(t *testing.T) {
	t.Parallel()

	if fn := NewProxyFunc("direct://", ""); fn != nil {
		t.Fatal("direct:// should disable proxying")
	}
	if fn := NewProxyFunc("", ""); fn != nil {
		t.Fatal("empty proxy should disable proxying")
	}

	fn := NewProxyFunc("socks5h://proxy.example:1080", "internal.example,.corp.example")

	tests := []struct {
		url  string
		want string
	}{
		{"http://www.example.com/", "socks5h://proxy.example:1080"},
		{"https://www.example.com/", "socks5h://proxy.example:1080"},
		{"http://internal.example/", ""},
		{"https://db.corp.example/", ""},
		{"http://localhost:8080/", ""},
		{"http://127.0.0.1/", ""},
	}

	for _, tt := range tests {
		req, err := http.NewRequest(http.MethodGet, tt.url, http.NoBody)
		if err != nil {
			t.Fatal(err)
		}
		u, err := fn(req)
		if err != nil {
			t.Fatalf("%s: %v", tt.url, err)
		}
		got := ""
		if u != nil {
			got = u.String()
		}
		if got != tt.want {
			t.Errorf("%s: got %q, want %q", tt.url, got, tt.want)
		}
	}
}

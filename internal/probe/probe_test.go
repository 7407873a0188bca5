package probe

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestHTTPFetcherStatus(t *testing.T) {
	t.Parallel()
	mux := http.NewServeMux()
	mux.HandleFunc("/ok", func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte("ok")) })
	mux.HandleFunc("/down", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusServiceUnavailable) })
	srv := httptest.NewServer(mux)
	defer srv.Close()

	f := NewHTTPFetcher()
	defer f.Close()

	tests := []struct {
		path string
		want int
	}{
		{"/ok", http.StatusOK},
		{"/down", http.StatusServiceUnavailable},
		{"/missing", http.StatusNotFound},
	}
	for _, tt := range tests {
		got, err := f.Get(context.Background(), srv.URL+tt.path, time.Second)
		if err != nil {
			t.Fatalf("Get(%s): %v", tt.path, err)
		}
		if got != tt.want {
			t.Fatalf("Get(%s) = %d, want %d", tt.path, got, tt.want)
		}
	}
}

func TestHTTPFetcherTimeout(t *testing.T) {
	t.Parallel()
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	f := NewHTTPFetcher()
	defer f.Close()

	start := time.Now()
	if _, err := f.Get(context.Background(), srv.URL, 50*time.Millisecond); err == nil {
		t.Fatal("expected timeout error")
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("timeout not honored: %v", elapsed)
	}
}

func TestHTTPFetcherBadURL(t *testing.T) {
	t.Parallel()
	f := NewHTTPFetcher()
	if _, err := f.Get(context.Background(), "://nope", time.Second); err == nil {
		t.Fatal("expected error for malformed URL")
	}
}

func TestUDPSenderLoopback(t *testing.T) {
	t.Parallel()
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer pc.Close()
	port := uint16(pc.LocalAddr().(*net.UDPAddr).Port)

	s := NewUDPSender()
	if err := s.Send(context.Background(), "127.0.0.1", port, []byte{0, 0}, time.Second); err != nil {
		t.Fatalf("Send: %v", err)
	}

	_ = pc.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 16)
	n, _, err := pc.ReadFrom(buf)
	if err != nil {
		t.Fatalf("ReadFrom: %v", err)
	}
	if n != 2 || buf[0] != 0 || buf[1] != 0 {
		t.Fatalf("received %v, want two zero bytes", buf[:n])
	}
}

func TestUDPSenderRejectsEmptyAddress(t *testing.T) {
	t.Parallel()
	if err := NewUDPSender().Send(context.Background(), "", 53, []byte{0, 0}, time.Second); err == nil {
		t.Fatal("expected error for empty address")
	}
}

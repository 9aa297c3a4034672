package infra

import (
	"bytes"
	"context"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestHTTPServerServesUntilCancelled(t *testing.T) {
	cfg := &Config{Port: "0", HTTPReadTimeout: time.Second, HTTPWriteTimeout: time.Second, HTTPIdleTimeout: time.Second}
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "pong")
	})
	srv := NewHTTPServer(cfg, handler, zerolog.New(io.Discard))
	if srv.Addr() != ":0" {
		t.Fatalf("Addr = %q", srv.Addr())
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln, time.Second) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/ping")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if string(body) != "pong" {
		t.Fatalf("body = %q", body)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Serve returned %v, want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

func TestHTTPServerRoutesErrorLogToZerolog(t *testing.T) {
	var buf bytes.Buffer
	srv := NewHTTPServer(&Config{Port: "8080"}, http.NotFoundHandler(), zerolog.New(&buf))
	srv.server.ErrorLog.Print("tls handshake error")
	if !bytes.Contains(buf.Bytes(), []byte(`"component":"http"`)) || !bytes.Contains(buf.Bytes(), []byte("tls handshake error")) {
		t.Fatalf("error log not routed: %s", buf.String())
	}
}

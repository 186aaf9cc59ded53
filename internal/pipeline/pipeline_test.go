package pipeline

import (
	"bytes"
	"fmt"
	"net"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omalloc/cellar/internal/cache"
)

type nopLogger struct{}

func (nopLogger) Infof(string, ...any)  {}
func (nopLogger) Warnf(string, ...any)  {}
func (nopLogger) Errorf(string, ...any) {}

type nopRecorder struct{}

func (nopRecorder) CacheHit()                 {}
func (nopRecorder) CacheMiss()                {}
func (nopRecorder) CacheEviction()            {}
func (nopRecorder) CacheAdmission(int)        {}
func (nopRecorder) CacheBytesInUse(int)       {}
func (nopRecorder) RequestDone(string, int64) {}

// startUpstream accepts connections on loopback, reads one request's
// header block and hands the raw bytes plus the connection to respond,
// and counts connections accepted.
func startUpstream(t *testing.T, respond func(conn net.Conn, rawRequest string)) (addr string, accepted *int32) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	var count int32
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			atomic.AddInt32(&count, 1)
			go func(c net.Conn) {
				defer c.Close()
				var buf bytes.Buffer
				line := make([]byte, 1)
				for {
					var headerLine bytes.Buffer
					for {
						n, err := c.Read(line)
						if n > 0 {
							headerLine.WriteByte(line[0])
						}
						if err != nil || (headerLine.Len() >= 1 && headerLine.Bytes()[headerLine.Len()-1] == '\n') {
							break
						}
					}
					buf.Write(headerLine.Bytes())
					if headerLine.String() == "\r\n" || headerLine.Len() == 0 {
						break
					}
				}
				respond(c, buf.String())
			}(conn)
		}
	}()
	t.Cleanup(func() { ln.Close() })
	return ln.Addr().String(), &count
}

func newTestPipeline(store *cache.Store) *Pipeline {
	return New(store, nopRecorder{}, nopLogger{}, nil, nil, func() string { return "test-request-id" })
}

// roundTrip drives one Handle() call over a net.Pipe, writes raw to
// the proxy side, and returns whatever the proxy wrote back.
func roundTrip(t *testing.T, p *Pipeline, raw string) string {
	t.Helper()
	client, server := net.Pipe()

	done := make(chan struct{})
	go func() {
		p.Handle(server)
		close(done)
	}()

	_, err := client.Write([]byte(raw))
	require.NoError(t, err)

	var out bytes.Buffer
	buf := make([]byte, 4096)
	client.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		n, err := client.Read(buf)
		if n > 0 {
			out.Write(buf[:n])
		}
		if err != nil {
			break
		}
	}
	client.Close()
	<-done
	return out.String()
}

func TestBadMethodReturns501NoUpstream(t *testing.T) {
	store := cache.New(nil, nil)
	p := newTestPipeline(store)

	out := roundTrip(t, p, "POST http://x/ HTTP/1.0\r\n\r\n")
	assert.Contains(t, out, "HTTP/1.0 501 Not Implemented")
}

func TestCacheAdmitThenHit(t *testing.T) {
	body := strings.Repeat("a", 1024)
	addr, accepted := startUpstream(t, func(c net.Conn, _ string) {
		fmt.Fprintf(c, "HTTP/1.0 200 OK\r\n\r\n%s", body)
	})

	store := cache.New(nil, nil)
	p := newTestPipeline(store)

	req := fmt.Sprintf("GET http://%s/ HTTP/1.0\r\n\r\n", addr)

	first := roundTrip(t, p, req)
	assert.Contains(t, first, body)
	assert.Equal(t, int32(1), atomic.LoadInt32(accepted))

	second := roundTrip(t, p, req)
	assert.Contains(t, second, body)
	assert.Equal(t, int32(1), atomic.LoadInt32(accepted), "second request must be served from cache, no new dial")
}

func TestOversizeBodyForwardedButNotCached(t *testing.T) {
	body := strings.Repeat("b", 200_000)
	addr, accepted := startUpstream(t, func(c net.Conn, _ string) {
		fmt.Fprintf(c, "HTTP/1.0 200 OK\r\n\r\n%s", body)
	})

	store := cache.New(nil, nil)
	p := newTestPipeline(store)

	req := fmt.Sprintf("GET http://%s/big HTTP/1.0\r\n\r\n", addr)

	first := roundTrip(t, p, req)
	assert.Contains(t, first, body)
	assert.Equal(t, int32(1), atomic.LoadInt32(accepted))

	_, _, hit := store.Get(addr + "/big")
	assert.False(t, hit)

	second := roundTrip(t, p, req)
	assert.Contains(t, second, body)
	assert.Equal(t, int32(2), atomic.LoadInt32(accepted), "oversize body must re-dial on the next request")
}

func TestHeaderRewriting(t *testing.T) {
	var captured string
	addr, _ := startUpstream(t, func(c net.Conn, rawRequest string) {
		captured = rawRequest
		fmt.Fprintf(c, "HTTP/1.0 200 OK\r\n\r\nok")
	})

	store := cache.New(nil, nil)
	p := newTestPipeline(store)

	req := fmt.Sprintf(
		"GET http://%s/a/b?x=1 HTTP/1.1\r\nUser-Agent: custom-client\r\nConnection: keep-alive\r\nProxy-Connection: keep-alive\r\nAccept: */*\r\n\r\n",
		addr,
	)

	roundTrip(t, p, req)

	require.NotEmpty(t, captured)
	assert.Contains(t, captured, "GET /a/b?x=1 HTTP/1.0\r\n")
	assert.Equal(t, 1, strings.Count(captured, "Host:"))
	assert.Equal(t, 1, strings.Count(captured, "User-Agent:"))
	assert.Contains(t, captured, "User-Agent: "+UserAgent)
	assert.Contains(t, captured, "Connection: close\r\n")
	assert.Contains(t, captured, "Proxy-Connection: close\r\n")
	assert.NotContains(t, captured, "custom-client")
	assert.NotContains(t, captured, "keep-alive")
	assert.Contains(t, captured, "Accept: */*")
}

func TestRootPathWithFabricatedHost(t *testing.T) {
	var captured string
	addr, _ := startUpstream(t, func(c net.Conn, rawRequest string) {
		captured = rawRequest
		fmt.Fprintf(c, "HTTP/1.0 200 OK\r\n\r\nok")
	})
	host, _, _ := net.SplitHostPort(addr)

	store := cache.New(nil, nil)
	p := newTestPipeline(store)

	req := fmt.Sprintf("GET http://%s/ HTTP/1.0\r\n\r\n", addr)
	roundTrip(t, p, req)

	require.NotEmpty(t, captured)
	assert.Contains(t, captured, "GET / HTTP/1.0\r\n")
	assert.Contains(t, captured, fmt.Sprintf("Host: %s\r\n", host))
}

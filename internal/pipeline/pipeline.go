// Package pipeline implements the per-connection state machine of
// spec.md §4.2: read a request line, validate it, resolve it against
// the cache, and on a miss dial upstream, rewrite headers, stream the
// response back to the client, and opportunistically admit it.
//
// This is the component the teacher's proxy/ package (an
// net/http.Client-based ReverseProxy with a selector and singleflight)
// does the conceptual equivalent of at a much higher level; this
// package instead works at the raw-connection level the spec
// describes, in the style of the teacher's server/mod request
// pipeline (one function per pipeline stage, threading a shared
// per-request context).
package pipeline

import (
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/omalloc/cellar/internal/cache"
	"github.com/omalloc/cellar/internal/constants"
	"github.com/omalloc/cellar/internal/httperr"
	"github.com/omalloc/cellar/internal/logging"
	"github.com/omalloc/cellar/internal/requestline"
	"github.com/omalloc/cellar/internal/rio"
)

// UserAgent is the fixed header the original proxy substitutes for
// whatever the client sent (spec.md §6).
const UserAgent = "Mozilla/5.0 (X11; Linux x86_64; rv:10.0.3) Gecko/20120305 Firefox/10.0.3"

// Logger is the subset of *zap.SugaredLogger the pipeline needs.
type Logger interface {
	Infof(template string, args ...any)
	Warnf(template string, args ...any)
	Errorf(template string, args ...any)
}

// Recorder is the per-request metrics sink, a superset of
// internal/cache.Recorder so a single *metrics.Recorder can back both
// the store and the pipeline.
type Recorder interface {
	cache.Recorder
	RequestDone(outcome string, bytesStreamed int64)
}

// Dialer opens the upstream connection. Tests substitute a dialer
// pointed at an in-process listener; production wires net.Dial.
type Dialer func(network, address string) (net.Conn, error)

// Pipeline holds the dependencies one connection's handling needs.
type Pipeline struct {
	store     *cache.Store
	rec       Recorder
	log       Logger
	accessLog *logging.AccessLog
	dial      Dialer
	newReqID  func() string
}

// New builds a Pipeline. accessLog may be nil to disable access
// logging (e.g. in tests). newReqID may be nil, in which case request
// IDs are omitted.
func New(store *cache.Store, rec Recorder, log Logger, accessLog *logging.AccessLog, dial Dialer, newReqID func() string) *Pipeline {
	if dial == nil {
		dial = net.Dial
	}
	return &Pipeline{store: store, rec: rec, log: log, accessLog: accessLog, dial: dial, newReqID: newReqID}
}

// skipHeaders is the set of client headers the forwarded request never
// carries verbatim (spec.md §4.2, FORWARD_REQUEST).
var skipHeaders = map[string]bool{
	"user-agent":       true,
	"connection":       true,
	"proxy-connection": true,
}

// Handle drives one connection through the full state machine,
// READ_REQUEST_LINE through CLOSE, and closes conn before returning.
func (p *Pipeline) Handle(conn net.Conn) {
	start := time.Now()
	defer conn.Close()

	requestID := ""
	if p.newReqID != nil {
		requestID = p.newReqID()
	}

	reader := rio.NewReader(conn)

	raw, err := reader.ReadLine(constants.MaxLine)
	if err != nil && len(raw) == 0 {
		// Empty read: client closed before sending anything (spec.md
		// §4.2, READ_REQUEST_LINE).
		return
	}

	rawLine := strings.TrimRight(string(raw), "\r\n")
	line, ok := requestline.Split(rawLine)
	if !ok {
		p.log.Warnf("malformed request line %q", rawLine)
		p.reject(conn, httperr.NotImplemented(rawLine, "Request line has fewer than three fields"))
		p.rec.RequestDone("not_implemented", 0)
		p.logAccess(requestID, "", "", "", "not_implemented", "skip", 0, start)
		return
	}

	if !requestline.IsGET(line.Method) {
		p.log.Warnf("unsupported method %q", line.Method)
		p.reject(conn, httperr.NotImplemented(line.Method, "This proxy does not implement this method"))
		p.rec.RequestDone("not_implemented", 0)
		p.logAccess(requestID, line.Method, "", "", "not_implemented", "skip", 0, start)
		return
	}

	if !requestline.HasHTTPScheme(line.URI) {
		p.log.Warnf("non-absolute request-URI %q", line.URI)
		p.reject(conn, httperr.BadRequest(line.URI, "Request-URI must be in absolute http:// form"))
		p.rec.RequestDone("bad_request", 0)
		p.logAccess(requestID, line.Method, "", "", "bad_request", "skip", 0, start)
		return
	}

	if !requestline.IsSupportedVersion(line.Version) {
		p.log.Warnf("unsupported version %q", line.Version)
		p.reject(conn, httperr.NotImplemented(line.Version, "Unsupported HTTP version"))
		p.rec.RequestDone("not_implemented", 0)
		p.logAccess(requestID, line.Method, "", "", "not_implemented", "skip", 0, start)
		return
	}

	host, port, path := requestline.ParseURI(line.URI)
	key := requestline.CanonicalKey(host, port, path)

	if body, _, hit := p.store.Get(key); hit {
		n, _ := conn.Write(body)
		p.rec.RequestDone("ok", int64(n))
		p.logAccess(requestID, line.Method, host, path, "ok", "hit", int64(n), start)
		return
	}

	upstream, err := p.dial("tcp", net.JoinHostPort(host, port))
	if err != nil {
		p.log.Errorf("dial upstream %s:%s: %v", host, port, err)
		p.reject(conn, httperr.InternalServerError(err.Error()))
		p.rec.RequestDone("upstream_error", 0)
		p.logAccess(requestID, line.Method, host, path, "upstream_error", "skip", 0, start)
		return
	}
	defer upstream.Close()

	if err := p.forwardRequest(upstream, reader, host, path); err != nil {
		p.log.Warnf("forward request to %s: %v", host, err)
		p.rec.RequestDone("client_error", 0)
		p.logAccess(requestID, line.Method, host, path, "client_error", "skip", 0, start)
		return
	}

	bytesStreamed, admitted := p.streamResponse(conn, upstream, key)

	outcome := "ok"
	cacheOutcome := "miss"
	if admitted {
		cacheOutcome = "admit"
	} else {
		cacheOutcome = "skip"
	}
	p.rec.RequestDone(outcome, bytesStreamed)
	p.logAccess(requestID, line.Method, host, path, outcome, cacheOutcome, bytesStreamed, start)
}

// reject writes an HTML error page, swallowing any write failure: the
// client is going away regardless.
func (p *Pipeline) reject(conn net.Conn, e *httperr.Error) {
	_ = e.WriteTo(conn)
}

// forwardRequest implements FORWARD_REQUEST: a synthesized request
// line, the client's headers minus the three suppressed ones, then the
// fabricated/fixed headers and a single terminating blank line.
func (p *Pipeline) forwardRequest(upstream net.Conn, clientReader *rio.Reader, host, path string) error {
	var b strings.Builder
	fmt.Fprintf(&b, "GET %s HTTP/1.0\r\n", path)

	hostSeen := false
	for {
		raw, err := clientReader.ReadLine(constants.MaxLine)
		trimmed := strings.TrimRight(string(raw), "\r\n")
		if trimmed == "" {
			break
		}
		name, _, found := strings.Cut(trimmed, ":")
		if found && skipHeaders[strings.ToLower(strings.TrimSpace(name))] {
			if err != nil {
				break
			}
			continue
		}
		if found && strings.ToLower(strings.TrimSpace(name)) == "host" {
			hostSeen = true
		}
		b.WriteString(trimmed)
		b.WriteString("\r\n")
		if err != nil {
			break
		}
	}

	if !hostSeen {
		fmt.Fprintf(&b, "Host: %s\r\n", host)
	}
	fmt.Fprintf(&b, "User-Agent: %s\r\n", UserAgent)
	b.WriteString("Connection: close\r\n")
	b.WriteString("Proxy-Connection: close\r\n")
	b.WriteString("\r\n")

	return rio.WriteAll(upstream, []byte(b.String()))
}

// streamResponse implements STREAM_RESPONSE and the ADMIT/SKIP_ADMIT
// decision. It returns the number of bytes written to the client and
// whether the body was admitted to the cache.
func (p *Pipeline) streamResponse(client, upstream net.Conn, key string) (bytesStreamed int64, admitted bool) {
	upstreamReader := rio.NewReader(upstream)
	staging := make([]byte, 0, constants.MaxObjectSize)
	buf := make([]byte, constants.MaxLine)

	admitOK := true
	for {
		n, rerr := upstreamReader.ReadN(buf)
		if n > 0 {
			nw, werr := client.Write(buf[:n])
			bytesStreamed += int64(nw)
			if werr != nil {
				p.log.Warnf("client write failed after %d bytes: %v", bytesStreamed, werr)
				admitOK = false
				break
			}
			if len(staging) < constants.MaxObjectSize {
				room := constants.MaxObjectSize - len(staging)
				take := n
				if take > room {
					take = room
				}
				staging = append(staging, buf[:take]...)
			}
		}
		if rerr != nil {
			if rerr == io.EOF {
				break
			}
			if rio.IsConnReset(rerr) {
				p.log.Warnf("upstream reset after %d bytes", bytesStreamed)
			} else {
				p.log.Errorf("upstream read error after %d bytes: %v", bytesStreamed, rerr)
			}
			admitOK = false
			break
		}
	}

	if admitOK && bytesStreamed <= constants.MaxObjectSize {
		body := make([]byte, len(staging))
		copy(body, staging)
		p.store.Put(key, body, len(body))
		return bytesStreamed, true
	}
	return bytesStreamed, false
}

func (p *Pipeline) logAccess(requestID, method, host, path, outcome, cacheOutcome string, bytesStreamed int64, start time.Time) {
	if p.accessLog == nil {
		return
	}
	p.accessLog.Write(requestID, method, host, path, outcome, cacheOutcome, bytesStreamed, time.Since(start))
}

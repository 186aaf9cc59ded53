// Package httperr renders the client-visible HTML error pages the
// proxy returns for malformed requests and upstream failures (spec.md
// §6), and carries the status code a response ultimately closed with.
package httperr

import (
	"bytes"
	"fmt"
	"io"
)

// Error is a proxy-originated, client-visible failure: an HTTP status
// code plus the short/long messages and offending input (cause) that
// went into the rendered page. Grounded on the teacher's
// pkg/errors.Error, which carries the same Code/cause shape for a
// fuller HTTP stack; here it is specialized to the fixed three-status
// vocabulary (400/500/501) spec.md §6 and §7 call for.
type Error struct {
	Code     int
	ShortMsg string
	LongMsg  string
	cause    string
}

// New builds an Error for the given status code and messages.
func New(code int, shortMsg, longMsg, cause string) *Error {
	return &Error{Code: code, ShortMsg: shortMsg, LongMsg: longMsg, cause: cause}
}

// WithCause returns a copy of e with cause replaced.
func (e *Error) WithCause(cause string) *Error {
	cp := *e
	cp.cause = cause
	return &cp
}

func (e *Error) Error() string {
	return fmt.Sprintf("httperr: code=%d short=%q cause=%q", e.Code, e.ShortMsg, e.cause)
}

// NotImplemented is a 501, used for an unsupported method or HTTP
// version (spec.md §4.2, VALIDATE).
func NotImplemented(cause, longMsg string) *Error {
	return New(501, "Not Implemented", longMsg, cause)
}

// BadRequest is a 400, used for a request-URI that isn't absolute-form
// http:// (spec.md §4.2, VALIDATE).
func BadRequest(cause, longMsg string) *Error {
	return New(400, "Bad Request", longMsg, cause)
}

// InternalServerError is a 500, used when dialing upstream fails
// (spec.md §4.2, failure semantics).
func InternalServerError(cause string) *Error {
	return New(500, "Internal Server Error", "The proxy server encountered a problem", cause)
}

// Render builds the HTML error body, in the same shape as the
// original clienterror's body: a title, the status line, the long
// message plus cause, and a footer.
func (e *Error) Render() []byte {
	var b bytes.Buffer
	b.WriteString("<html><title>Proxy Error</title>")
	b.WriteString("<body bgcolor=\"ffffff\">\r\n")
	fmt.Fprintf(&b, "%d: %s\r\n", e.Code, e.ShortMsg)
	fmt.Fprintf(&b, "<p>%s: %s\r\n", e.LongMsg, e.cause)
	b.WriteString("<hr><em>The Proxy Server</em>\r\n")
	return b.Bytes()
}

// WriteTo writes the full HTTP/1.0 response for e to w: status line,
// Content-Type, Content-Length, a blank line, then the rendered body.
func (e *Error) WriteTo(w io.Writer) error {
	body := e.Render()

	var head bytes.Buffer
	fmt.Fprintf(&head, "HTTP/1.0 %d %s\r\n", e.Code, e.ShortMsg)
	head.WriteString("Content-Type: text/html\r\n")
	fmt.Fprintf(&head, "Content-Length: %d\r\n\r\n", len(body))

	if _, err := w.Write(head.Bytes()); err != nil {
		return err
	}
	_, err := w.Write(body)
	return err
}

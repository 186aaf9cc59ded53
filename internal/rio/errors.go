package rio

import (
	"errors"
	"io"
	"net"
	"syscall"
)

// WriteAll writes all of p to w, classifying short-write failures the
// way spec.md §4.2 expects: a broken pipe or reset connection is
// reported through the normal error return rather than treated as
// fatal — callers decide whether to abandon the transfer (spec.md
// §7).
func WriteAll(w io.Writer, p []byte) error {
	_, err := w.Write(p)
	return err
}

// IsConnReset reports whether err ultimately wraps ECONNRESET — the
// "upstream read error with errno == ECONNRESET" and "client write
// error with errno ∈ {EPIPE, ECONNRESET}" cases of spec.md §4.2.
func IsConnReset(err error) bool {
	return errors.Is(err, syscall.ECONNRESET)
}

// IsBrokenPipe reports whether err ultimately wraps EPIPE.
func IsBrokenPipe(err error) bool {
	return errors.Is(err, syscall.EPIPE)
}

// IsTransient reports whether err is one of the non-fatal transient
// socket errors spec.md §7 calls out: ECONNRESET or EPIPE.
func IsTransient(err error) bool {
	return IsConnReset(err) || IsBrokenPipe(err)
}

// IsClosedConn reports whether err indicates an I/O call on a net.Conn
// that had already been closed on this side (net.ErrClosed).
func IsClosedConn(err error) bool {
	return errors.Is(err, net.ErrClosed)
}

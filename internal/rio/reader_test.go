package rio

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadLineReturnsThroughNewline(t *testing.T) {
	r := NewReader(strings.NewReader("GET / HTTP/1.0\r\nHost: x\r\n\r\n"))

	line, err := r.ReadLine(MaxLine)
	require.NoError(t, err)
	assert.Equal(t, "GET / HTTP/1.0\r\n", string(line))

	line, err = r.ReadLine(MaxLine)
	require.NoError(t, err)
	assert.Equal(t, "Host: x\r\n", string(line))

	line, err = r.ReadLine(MaxLine)
	require.NoError(t, err)
	assert.Equal(t, "\r\n", string(line))
}

func TestReadLineEmptyReadIsEOF(t *testing.T) {
	r := NewReader(strings.NewReader(""))

	line, err := r.ReadLine(MaxLine)
	assert.ErrorIs(t, err, io.EOF)
	assert.Empty(t, line)
}

func TestReadLineTruncatesAtMax(t *testing.T) {
	r := NewReader(strings.NewReader(strings.Repeat("a", 100) + "\n"))

	line, err := r.ReadLine(10)
	require.NoError(t, err)
	assert.Len(t, line, 10)
}

func TestReadNReturnsWhateverIsAvailable(t *testing.T) {
	r := NewReader(bytes.NewReader([]byte("hello")))

	buf := make([]byte, MaxLine)
	n, err := r.ReadN(buf)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(buf[:n]))
}

func TestIsTransient(t *testing.T) {
	assert.False(t, IsTransient(errors.New("boring")))
	assert.False(t, IsTransient(io.EOF))
}

package server

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func stubClock(t *testing.T, at time.Time) {
	old := now
	now = func() time.Time { return at }
	t.Cleanup(func() { now = old })
}

func TestHandleRoot(t *testing.T) {
	when := time.Date(2024, time.March, 1, 12, 0, 0, 0, time.UTC)
	stubClock(t, when)

	res := Handle([]byte("GET / HTTP/1.1\r\nUser-Agent: test\r\n\r\n"))

	assert.Equal(t, StatusOk, res.Code)
	body := res.Body.String()
	assert.Contains(t, body, "Hello World!")
	assert.Contains(t, body, when.Format(time.RFC1123))
	assert.Contains(t, body, "test")
}

func TestHandleRootWithoutUserAgent(t *testing.T) {
	res := Handle([]byte("GET / HTTP/1.1\r\n\r\n"))

	assert.Equal(t, StatusOk, res.Code)
	assert.Contains(t, res.Body.String(), absentUserAgent)
}

func TestHandleOther(t *testing.T) {
	res := Handle([]byte("GET /other HTTP/1.1\r\n\r\n"))

	assert.Equal(t, StatusOk, res.Code)
	assert.Equal(t, AlternateBody, res.Body.String())
}

func TestHandleUnknownPath(t *testing.T) {
	res := Handle([]byte("GET /missing HTTP/1.1\r\n\r\n"))

	assert.Equal(t, StatusNotFound, res.Code)
	assert.Zero(t, res.Body.Len())
}

func TestHandleInvalidText(t *testing.T) {
	res := Handle([]byte{0xff, 0xfe, 0xfd, '\r', '\n', '\r', '\n'})

	assert.Equal(t, StatusError, res.Code)
	assert.Zero(t, res.Body.Len())
}

func TestHandlePathlessRequestLine(t *testing.T) {
	res := Handle([]byte("GET\r\n\r\n"))

	assert.Equal(t, StatusNotFound, res.Code)
}

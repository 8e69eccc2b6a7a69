//go:build linux
// +build linux

package server

import (
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startServer(t *testing.T) string {
	t.Helper()
	s := NewServer("127.0.0.1:0")
	require.NoError(t, s.Listen())
	go s.Serve()
	t.Cleanup(s.Shutdown)
	return s.BoundAddr().String()
}

// roundTrip sends raw bytes and returns everything the server wrote before
// closing the connection.
func roundTrip(t *testing.T, addr string, raw []byte) string {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.SetDeadline(time.Now().Add(5*time.Second)))
	_, err = conn.Write(raw)
	require.NoError(t, err)

	resp, err := io.ReadAll(conn)
	require.NoError(t, err)
	return string(resp)
}

func splitResponse(t *testing.T, resp string) (status string, headers map[string]string, body string) {
	t.Helper()
	head, body, ok := strings.Cut(resp, "\r\n\r\n")
	require.True(t, ok, "response has no header terminator: %q", resp)

	lines := strings.Split(head, "\r\n")
	status = lines[0]
	headers = make(map[string]string)
	for _, line := range lines[1:] {
		name, value, ok := strings.Cut(line, ": ")
		require.True(t, ok, "malformed header line %q", line)
		headers[name] = value
	}
	return status, headers, body
}

func TestServeRoot(t *testing.T) {
	addr := startServer(t)

	resp := roundTrip(t, addr, []byte("GET / HTTP/1.1\r\nUser-Agent: test\r\n\r\n"))
	status, headers, body := splitResponse(t, resp)

	assert.Equal(t, "HTTP/1.1 200 OK", status)
	assert.Contains(t, body, "Hello World!")
	assert.Contains(t, body, "test")
	assert.Equal(t, strconv.Itoa(len(body)), headers["Content-Length"])
	assert.Equal(t, "text/plain; charset=UTF-8", headers["Content-Type"])
}

func TestServeOther(t *testing.T) {
	addr := startServer(t)

	resp := roundTrip(t, addr, []byte("GET /other HTTP/1.1\r\n\r\n"))
	status, headers, body := splitResponse(t, resp)

	assert.Equal(t, "HTTP/1.1 200 OK", status)
	assert.Equal(t, AlternateBody, body)
	assert.Equal(t, strconv.Itoa(len(AlternateBody)), headers["Content-Length"])
}

func TestServeNotFound(t *testing.T) {
	addr := startServer(t)

	resp := roundTrip(t, addr, []byte("GET /missing HTTP/1.1\r\n\r\n"))
	status, headers, body := splitResponse(t, resp)

	assert.Equal(t, "HTTP/1.1 404 Not Found", status)
	assert.Empty(t, body)
	assert.Equal(t, "0", headers["Content-Length"])
}

func TestServeInvalidText(t *testing.T) {
	addr := startServer(t)

	raw := append([]byte{0xff, 0xfe, 0xfd}, []byte("\r\n\r\n")...)
	resp := roundTrip(t, addr, raw)
	status, headers, body := splitResponse(t, resp)

	assert.Equal(t, "HTTP/1.1 500 Internal Server Error", status)
	assert.Empty(t, body)
	assert.Equal(t, "0", headers["Content-Length"])
}

func TestServeEarlyCloseDoesNotDisturbOthers(t *testing.T) {
	addr := startServer(t)

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	require.NoError(t, conn.SetDeadline(time.Now().Add(5*time.Second)))

	// Half the request, then close the write side: the server sees a
	// zero-byte read before the terminator.
	_, err = conn.Write([]byte("GET / HTTP/1.1\r\n"))
	require.NoError(t, err)
	require.NoError(t, conn.(*net.TCPConn).CloseWrite())

	// No response, just EOF once the server tears the connection down.
	data, err := io.ReadAll(conn)
	assert.NoError(t, err)
	assert.Empty(t, data)
	conn.Close()

	// The server is still healthy for everyone else.
	resp := roundTrip(t, addr, []byte("GET /other HTTP/1.1\r\n\r\n"))
	status, _, body := splitResponse(t, resp)
	assert.Equal(t, "HTTP/1.1 200 OK", status)
	assert.Equal(t, AlternateBody, body)
}

func TestServeRequestSplitAcrossPackets(t *testing.T) {
	addr := startServer(t)

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetDeadline(time.Now().Add(5*time.Second)))

	for _, part := range []string{"GET /oth", "er HTTP/1.1\r\nUser-", "Agent: slow\r\n", "\r\n"} {
		_, err = conn.Write([]byte(part))
		require.NoError(t, err)
		time.Sleep(10 * time.Millisecond)
	}

	resp, err := io.ReadAll(conn)
	require.NoError(t, err)
	status, _, body := splitResponse(t, string(resp))
	assert.Equal(t, "HTTP/1.1 200 OK", status)
	assert.Equal(t, AlternateBody, body)
}

func TestServeConcurrentConnections(t *testing.T) {
	addr := startServer(t)

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			conn, err := net.Dial("tcp", addr)
			if err != nil {
				errs <- err
				return
			}
			defer conn.Close()
			conn.SetDeadline(time.Now().Add(5 * time.Second))

			if _, err := fmt.Fprintf(conn, "GET /other HTTP/1.1\r\nUser-Agent: client-%d\r\n\r\n", i); err != nil {
				errs <- err
				return
			}
			resp, err := io.ReadAll(conn)
			if err != nil {
				errs <- err
				return
			}
			if !strings.HasSuffix(string(resp), AlternateBody) {
				errs <- fmt.Errorf("unexpected response: %q", resp)
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}
}

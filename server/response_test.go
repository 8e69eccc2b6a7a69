package server

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResponseSerialization(t *testing.T) {
	res := &Response{Code: StatusOk}
	res.Body.WriteString("Hello World!")

	var buf bytes.Buffer
	res.Serialize(&buf)

	assert.Equal(t,
		"HTTP/1.1 200 OK\r\n"+
			"Content-Length: 12\r\n"+
			"Content-Type: text/plain; charset=UTF-8\r\n"+
			"\r\n"+
			"Hello World!",
		buf.String())
}

func TestResponseStatusLines(t *testing.T) {
	tests := []struct {
		code StatusCode
		line string
	}{
		{StatusOk, "HTTP/1.1 200 OK"},
		{StatusNotFound, "HTTP/1.1 404 Not Found"},
		{StatusError, "HTTP/1.1 500 Internal Server Error"},
	}

	for _, tt := range tests {
		var buf bytes.Buffer
		res := &Response{Code: tt.code}
		res.Serialize(&buf)
		line, _, ok := strings.Cut(buf.String(), "\r\n")
		require.True(t, ok)
		assert.Equal(t, tt.line, line)
	}
}

func TestResponseContentLengthMatchesBody(t *testing.T) {
	bodies := []string{"", "x", "Hello World!", strings.Repeat("payload ", 1000)}

	for _, body := range bodies {
		res := &Response{Code: StatusOk}
		res.Body.WriteString(body)

		var buf bytes.Buffer
		res.Serialize(&buf)

		head, got, ok := strings.Cut(buf.String(), "\r\n\r\n")
		require.True(t, ok)
		assert.Equal(t, body, got)

		declared := -1
		for _, line := range strings.Split(head, "\r\n") {
			if v, ok := strings.CutPrefix(line, "Content-Length: "); ok {
				declared, _ = strconv.Atoi(v)
			}
		}
		assert.Equal(t, len(body), declared,
			fmt.Sprintf("declared length must equal body byte count for %q", body))
	}
}

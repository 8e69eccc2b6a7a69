package server

import (
	"bytes"
	"fmt"
)

type StatusCode int

const (
	StatusOk       StatusCode = 200
	StatusNotFound StatusCode = 404
	StatusError    StatusCode = 500
)

func (c StatusCode) reason() string {
	switch c {
	case StatusOk:
		return "OK"
	case StatusNotFound:
		return "Not Found"
	default:
		return "Internal Server Error"
	}
}

// Response is filled by the route handler and serialized once into the
// connection's outbound buffer.
type Response struct {
	Code StatusCode
	Body bytes.Buffer
}

// Serialize writes the status line, the length and content-type headers, a
// blank line and the body. The declared Content-Length always equals the
// exact byte count of the body that follows.
func (r *Response) Serialize(buf *bytes.Buffer) {
	fmt.Fprintf(buf, "HTTP/1.1 %d %s\r\n", int(r.Code), r.Code.reason())
	fmt.Fprintf(buf, "Content-Length: %d\r\n", r.Body.Len())
	buf.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	buf.WriteString("\r\n")
	buf.Write(r.Body.Bytes())
}

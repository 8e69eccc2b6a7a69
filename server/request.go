package server

import "bytes"

var crlf = []byte("\r\n")

// Request is a view over the accumulated inbound buffer of one connection.
// It holds sub-slices of that buffer and must not outlive the handling step
// that produced it.
type Request struct {
	lines [][]byte
}

// ParseRequest splits raw into its request line and header lines. raw is
// only parsed once the \r\n\r\n terminator has been observed; anything after
// the first blank line is ignored.
func ParseRequest(raw []byte) *Request {
	var lines [][]byte
	for _, line := range bytes.Split(raw, crlf) {
		if len(line) == 0 {
			break
		}
		lines = append(lines, line)
	}
	return &Request{lines: lines}
}

// Method returns the first whitespace-delimited token of the request line.
func (r *Request) Method() (string, bool) {
	return r.requestLineField(0)
}

// Path returns the second whitespace-delimited token of the request line.
func (r *Request) Path() (string, bool) {
	return r.requestLineField(1)
}

func (r *Request) requestLineField(n int) (string, bool) {
	if len(r.lines) == 0 {
		return "", false
	}
	fields := bytes.Fields(r.lines[0])
	if n >= len(fields) {
		return "", false
	}
	return string(fields[n]), true
}

// Headers returns the raw header lines after the request line, in order,
// up to the first blank line.
func (r *Request) Headers() [][]byte {
	if len(r.lines) < 2 {
		return nil
	}
	return r.lines[1:]
}

// Header returns the value of the first header line beginning with name.
// No folding, continuation lines or unescaping.
func (r *Request) Header(name string) (string, bool) {
	for _, line := range r.Headers() {
		if !bytes.HasPrefix(line, []byte(name)) {
			continue
		}
		rest := bytes.TrimPrefix(line[len(name):], []byte(":"))
		return string(bytes.TrimSpace(rest)), true
	}
	return "", false
}

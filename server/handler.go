package server

import (
	"fmt"
	"time"
	"unicode/utf8"
)

// AlternateBody is the fixed payload served on /other.
const AlternateBody = "You have reached the other page.\n"

const absentUserAgent = "(absent)"

// now is replaced in tests.
var now = time.Now

// Handle turns one complete raw request into a Response. It performs no I/O
// and never fails: malformed input degrades to an error response that goes
// out through the normal writing path.
func Handle(raw []byte) *Response {
	res := &Response{Code: StatusOk}

	if !utf8.Valid(raw) {
		res.Code = StatusError
		return res
	}

	req := ParseRequest(raw)
	path, ok := req.Path()
	if !ok {
		res.Code = StatusNotFound
		return res
	}

	switch path {
	case "/":
		ua, ok := req.Header("User-Agent")
		if !ok {
			ua = absentUserAgent
		}
		fmt.Fprintf(&res.Body, "Hello World!\nIt is %s and your agent is %s\n",
			now().Format(time.RFC1123), ua)
	case "/other":
		res.Body.WriteString(AlternateBody)
	default:
		res.Code = StatusNotFound
	}
	return res
}

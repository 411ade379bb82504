package comms

import (
	"bufio"
	_ "embed"
	"fmt"
	"io"
)

const (
	contentTypeHTML = "text/html; charset=utf-8"
	contentTypeText = "text/plain; charset=utf-8"
)

//go:embed static/Default.html
var defaultPage []byte

// Response is always sent as 200 OK on a connection that is then closed.
type Response struct {
	Body        []byte
	ContentType string
}

// StaticPage is the control page served for every handled request.
func StaticPage() Response {
	return Response{Body: defaultPage, ContentType: contentTypeHTML}
}

// Diagnostic reports err to the client in place of the page.
func Diagnostic(err error) Response {
	return Response{Body: []byte(err.Error()), ContentType: contentTypeText}
}

func (r Response) IsStatic() bool {
	return r.ContentType == contentTypeHTML
}

// WriteTo writes the status line, headers and body to w and flushes.
func (r Response) WriteTo(w io.Writer) (n int64, err error) {
	bw := bufio.NewWriter(w)

	var hn int
	if r.ContentType != "" {
		hn, err = fmt.Fprintf(bw, "HTTP/1.1 200 OK\r\nContent-Length: %d\r\nContent-Type: %s\r\nConnection: close\r\n\r\n",
			len(r.Body), r.ContentType)
	} else {
		hn, err = fmt.Fprintf(bw, "HTTP/1.1 200 OK\r\nContent-Length: %d\r\nConnection: close\r\n\r\n", len(r.Body))
	}
	n += int64(hn)
	if err != nil {
		return
	}

	bn, err := bw.Write(r.Body)
	n += int64(bn)
	if err != nil {
		return
	}
	return n, bw.Flush()
}

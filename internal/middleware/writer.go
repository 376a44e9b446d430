package middleware

import (
	"bufio"    // Hijack return type
	"bytes"    // Response buffer
	"net"      // Hijack return type
	"net/http" // HTTP types

	"github.com/gin-gonic/gin" // Gin web framework
)

// bufferedWriter holds a handler's response until the payment outcome is known.
// A handler that flushes (streaming) commits the response early; everything
// written afterwards goes straight to the client.
type bufferedWriter struct {
	gin.ResponseWriter              // Underlying writer
	header             http.Header  // Headers staged by the handler
	body               bytes.Buffer // Body staged by the handler
	status             int          // Status staged by the handler
	wroteHeader        bool         // Handler chose a status
	committed          bool         // Bytes released to the client
}

var _ http.Flusher = (*bufferedWriter)(nil)

func newBufferedWriter(w gin.ResponseWriter) *bufferedWriter {
	return &bufferedWriter{
		ResponseWriter: w,
		header:         w.Header().Clone(), // Start from headers set by earlier middleware
		status:         http.StatusOK,
	}
}

func (w *bufferedWriter) Header() http.Header {
	if w.committed {
		return w.ResponseWriter.Header()
	}
	return w.header
}

func (w *bufferedWriter) WriteHeader(code int) {
	if w.committed {
		return // Too late, status already sent
	}
	if code > 0 && !w.wroteHeader {
		w.status = code
	}
}

func (w *bufferedWriter) WriteHeaderNow() {
	w.wroteHeader = true
}

func (w *bufferedWriter) Write(data []byte) (int, error) {
	if w.committed {
		return w.ResponseWriter.Write(data)
	}
	w.wroteHeader = true
	return w.body.Write(data)
}

func (w *bufferedWriter) WriteString(s string) (int, error) {
	return w.Write([]byte(s))
}

func (w *bufferedWriter) Status() int {
	if w.committed {
		return w.ResponseWriter.Status()
	}
	return w.status
}

func (w *bufferedWriter) Size() int {
	if w.committed {
		return w.ResponseWriter.Size()
	}
	if !w.wroteHeader {
		return -1
	}
	return w.body.Len()
}

func (w *bufferedWriter) Written() bool {
	return w.committed || w.wroteHeader
}

// Flush commits the staged response and flushes it to the client
func (w *bufferedWriter) Flush() {
	w.commit(nil)
	w.ResponseWriter.Flush()
}

// Hijack hands the connection to the handler; the response is committed
func (w *bufferedWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	w.committed = true
	return w.ResponseWriter.Hijack()
}

// commit sends staged headers, status and body, adding extra headers first
func (w *bufferedWriter) commit(extra map[string]string) {
	if w.committed {
		return
	}
	w.committed = true
	dst := w.ResponseWriter.Header()
	for k, v := range w.header {
		dst[k] = v
	}
	for k, v := range extra {
		dst.Set(k, v)
	}
	w.ResponseWriter.WriteHeader(w.status)
	w.ResponseWriter.WriteHeaderNow()
	if w.body.Len() > 0 {
		_, _ = w.ResponseWriter.Write(w.body.Bytes())
		w.body.Reset()
	}
}

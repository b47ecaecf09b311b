package middleware

import (
	"bytes"
	"net/http"
)

// StatusRecorder remembers the status and size of a response.
// Only the first WriteHeader reaches the client.
type StatusRecorder struct {
	http.ResponseWriter
	StatusCode int
	Bytes      int
	written    bool
}

// NewStatusRecorder wraps w. StatusCode is 200 until a handler says otherwise.
func NewStatusRecorder(w http.ResponseWriter) *StatusRecorder {
	return &StatusRecorder{ResponseWriter: w, StatusCode: http.StatusOK}
}

func (r *StatusRecorder) WriteHeader(code int) {
	if r.written {
		return
	}
	r.StatusCode = code
	r.written = true
	r.ResponseWriter.WriteHeader(code)
}

func (r *StatusRecorder) Write(b []byte) (int, error) {
	r.WriteHeader(http.StatusOK)
	n, err := r.ResponseWriter.Write(b)
	r.Bytes += n
	return n, err
}

// ResponseRecorder also keeps a copy of the body and of the headers as
// they were when the status line went out, so the response can be stored
// and replayed for a repeated idempotency key.
type ResponseRecorder struct {
	*StatusRecorder
	Body    *bytes.Buffer
	Headers http.Header
}

func NewResponseRecorder(w http.ResponseWriter) *ResponseRecorder {
	return &ResponseRecorder{
		StatusRecorder: NewStatusRecorder(w),
		Body:           &bytes.Buffer{},
		Headers:        make(http.Header),
	}
}

func (r *ResponseRecorder) WriteHeader(code int) {
	if !r.written {
		r.Headers = r.ResponseWriter.Header().Clone()
	}
	r.StatusRecorder.WriteHeader(code)
}

func (r *ResponseRecorder) Write(b []byte) (int, error) {
	r.WriteHeader(http.StatusOK)
	r.Body.Write(b)
	return r.StatusRecorder.Write(b)
}

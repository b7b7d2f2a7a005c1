package http

import (
	"encoding/json"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/pkg/errors"

	"github.com/feedkit/feedkit"
)

// Listener is a push-mode feedkit.Source: it listens for HTTP post requests
// and turns json objects from their bodies into candidates. The batch ends -
// Record returns io.EOF - when the listener is closed, so callers own the
// batch boundary. Push delivery has no resume position; the dedup engine
// absorbs redelivery instead.
type Listener struct {
	name     string
	addr     string
	listener net.Listener
	server   *http.Server
	records  chan pushRecord
}

type pushRecord struct {
	c   *feedkit.Candidate
	err error
}

// ListenerOption is a functional option type for Listener.
type ListenerOption func(l *Listener)

// WithAddr is an option for the Listener which causes it to bind to the given
// address.
func WithAddr(addr string) ListenerOption {
	return func(l *Listener) {
		l.addr = addr
	}
}

// WithListener is an option for Listener which causes it to use the given
// listener. It will infer the address from the listener.
func WithListener(ln net.Listener) ListenerOption {
	return func(l *Listener) {
		l.listener = ln
		l.addr = ln.Addr().String()
	}
}

// WithName sets the source name recorded on candidates.
func WithName(name string) ListenerOption {
	return func(l *Listener) {
		l.name = name
	}
}

// WithBuffer is an option for Listener which modifies the length of the
// channel used to buffer received candidates (while they are waiting to be
// retrieved by a call to Record).
func WithBuffer(n int) ListenerOption {
	return func(l *Listener) {
		if n > -1 {
			l.records = make(chan pushRecord, n)
		}
	}
}

// NewListener creates a Listener and starts serving - it takes
// ListenerOptions which modify its behavior.
func NewListener(opts ...ListenerOption) (*Listener, error) {
	l := &Listener{
		name:    "http-push",
		records: make(chan pushRecord, 3),
	}
	for _, opt := range opts {
		opt(l)
	}

	if l.listener == nil {
		var err error
		l.listener, err = net.Listen("tcp", l.addr)
		if err != nil {
			return nil, err
		}
	}
	if tl, ok := l.listener.(*net.TCPListener); ok {
		l.listener = tcpKeepAliveListener{tl}
	}

	l.server = &http.Server{
		Addr:    l.addr,
		Handler: l,
	}
	go func() {
		err := l.server.Serve(l.listener)
		if err != http.ErrServerClosed {
			l.records <- pushRecord{err: errors.Wrap(err, "serving")}
		}
		close(l.records)
	}()
	return l, nil
}

// Addr gets the address that the Listener is listening on.
func (l *Listener) Addr() string {
	if l.listener != nil {
		return l.listener.Addr().String()
	}
	return l.addr
}

// Record returns the next posted candidate. It returns io.EOF after Close.
func (l *Listener) Record() (*feedkit.Candidate, error) {
	rec, ok := <-l.records
	if !ok {
		return nil, io.EOF
	}
	return rec.c, rec.err
}

// Close stops the server. Buffered candidates remain readable; Record
// returns io.EOF once they are drained.
func (l *Listener) Close() error {
	return l.server.Close()
}

// ServeHTTP implements http.Handler for Listener.
func (l *Listener) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "unsupported method: "+r.Method, http.StatusMethodNotAllowed)
		return
	}
	dec := json.NewDecoder(r.Body)
	for {
		payload := make(map[string]interface{})
		err := dec.Decode(&payload)
		if err == io.EOF {
			return
		}
		if err != nil {
			http.Error(w, errors.Wrap(err, "decoding json").Error(), http.StatusBadRequest)
			return
		}
		l.records <- pushRecord{c: &feedkit.Candidate{
			Source:     l.name,
			ObservedAt: time.Now().UTC(),
			Payload:    payload,
		}}
	}
}

// tcpKeepAliveListener is copied from net/http

type tcpKeepAliveListener struct {
	*net.TCPListener
}

func (ln tcpKeepAliveListener) Accept() (c net.Conn, err error) {
	tc, err := ln.AcceptTCP()
	if err != nil {
		return
	}
	tc.SetKeepAlive(true)
	tc.SetKeepAlivePeriod(3 * time.Minute)
	return tc, nil
}

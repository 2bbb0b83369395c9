package rtmp

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/streamlayer/rtmpingest/internal/rtmplog"
)

// contextKey is used to expose values stored in a connection's context
// without risking collisions with keys from other packages.
type contextKey struct {
	name string
}

func (k *contextKey) String() string { return "rtmp context value " + k.name }

var (
	// ServerContextKey is a context key. It can be used in RTMP
	// handlers with context.WithValue to access the server that
	// started the handler. The associated value will be of
	// type *Server.
	ServerContextKey = &contextKey{"rtmp-server"}

	// LocalAddressContextKey is a context key. It can be used in RTMP
	// handlers with context.WithValue to access the local address the
	// connection arrived on. The associated value will be of type
	// net.Addr.
	LocalAddressContextKey = &contextKey{"local-addr"}
)

// tcpKeepAliveListener sets TCP keep-alive timeouts on accepted
// connections, so dead connections (e.g. a laptop closing mid-stream)
// eventually go away.
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

// ActorFactory builds the external collaborator for one accepted
// connection's Session. Returning nil is valid — the connection then
// simply discards every callback.
type ActorFactory func(*Session) Actor

// Server accepts RTMP connections and drives each with its own Session and
// Actor. Mirrors net/http.Server's ListenAndServe/Serve/
// tcpKeepAliveListener shape, extended with a logger, default protocol
// parameters, an optional rate limiter and a session registry for an
// embedder to use.
type Server struct {
	Addr         string
	ActorFactory ActorFactory

	Logger *rtmplog.Logger

	DefaultChunkSize  uint32 // inbound default the dechunker starts at; RTMP default 128
	OutboundChunkSize uint32 // raised to this at connect, e.g. 1024
	WindowAckSize     uint32 // advertised to every peer at connect, e.g. 2,500,000

	// RateLimiter, if set, throttles the aggregate inbound byte rate
	// across every session served by this Server.
	RateLimiter *rate.Limiter

	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	sessions sync.Map // uuid.UUID -> *Session
}

func (srv *Server) logger() *rtmplog.Logger {
	if srv.Logger == nil {
		return rtmplog.NewNop()
	}
	return srv.Logger
}

func (srv *Server) defaultChunkSize() uint32 {
	if srv.DefaultChunkSize == 0 {
		return 128
	}
	return srv.DefaultChunkSize
}

func (srv *Server) outboundChunkSize() uint32 {
	if srv.OutboundChunkSize == 0 {
		return 1024
	}
	return srv.OutboundChunkSize
}

func (srv *Server) windowAckSize() uint32 {
	if srv.WindowAckSize == 0 {
		return 2500000
	}
	return srv.WindowAckSize
}

// ListenAndServe listens on srv.Addr (default ":1935") and serves accepted
// connections until Serve returns an error.
func (srv *Server) ListenAndServe() error {
	addr := srv.Addr
	if addr == "" {
		addr = ":1935" // Macromedia Flash Communication Server port
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	return srv.Serve(tcpKeepAliveListener{ln.(*net.TCPListener)})
}

var testHookServerServe func(*Server, net.Listener) // used if non-nil

// Serve runs the accept loop: one goroutine per accepted connection, no
// connection-to-connection shared state beyond the read-only session
// registry.
func (srv *Server) Serve(l net.Listener) error {
	defer l.Close()
	if fn := testHookServerServe; fn != nil {
		fn(srv, l)
	}

	log := srv.logger()
	var tempDelay time.Duration // how long to sleep on a temporary accept failure

	baseCtx := context.Background()
	ctx := context.WithValue(baseCtx, ServerContextKey, srv)
	ctx = context.WithValue(ctx, LocalAddressContextKey, l.Addr())

	for {
		rw, e := l.Accept()
		if e != nil {
			if ne, ok := e.(net.Error); ok && ne.Temporary() {
				if tempDelay == 0 {
					tempDelay = 5 * time.Millisecond
				} else {
					tempDelay *= 2
				}
				if max := 1 * time.Second; tempDelay > max {
					tempDelay = max
				}
				log.Warnw("accept error, retrying", "err", e, "backoff", tempDelay)
				time.Sleep(tempDelay)
				continue
			}
			return e
		}
		tempDelay = 0

		c := srv.newConn(rw)
		srv.registerSession(c.session)
		go c.serve(ctx)
	}
}

func (srv *Server) newConn(rwc net.Conn) *conn {
	session := newSession(srv.windowAckSize(), srv.outboundChunkSize())
	session.InboundChunkSize = srv.defaultChunkSize()

	c := &conn{
		server:  srv,
		rwc:     rwc,
		log:     srv.logger().With("session", session.ID.String()),
		session: session,
	}
	if srv.ActorFactory != nil {
		c.actor = srv.ActorFactory(session)
	}
	return c
}

func (srv *Server) registerSession(s *Session) {
	srv.sessions.Store(s.ID, s)
}

func (srv *Server) forgetSession(id uuid.UUID) {
	srv.sessions.Delete(id)
}

// Sessions returns a snapshot of every session currently being served, for
// introspection and metrics. No protocol behavior depends on this set —
// each connection's own state machine is self-contained.
func (srv *Server) Sessions() []*Session {
	var out []*Session
	srv.sessions.Range(func(_, v interface{}) bool {
		out = append(out, v.(*Session))
		return true
	})
	return out
}

// Package server exposes the storage engine over TCP.
//
// The server runs one goroutine per accepted connection. Each connection
// loops reading exactly one request frame, dispatching it against the shared
// engine, and writing exactly one response frame. A failure on one
// connection, whether a malformed frame or an engine error, never affects
// any other connection; the only shared state is the engine itself.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/tidekv/tidekv/engine"
	"github.com/tidekv/tidekv/kv"
	"github.com/tidekv/tidekv/wire"
)

// Version is reported by INFO.
const Version = "0.3.0"

// Config configures a Server. The zero value gets defaults from New.
type Config struct {
	// Addr is the listen address. Default 127.0.0.1:6380.
	Addr string

	// ReadTimeout bounds waiting for the next request frame on an idle
	// connection. Default 5 minutes.
	ReadTimeout time.Duration

	// WriteTimeout bounds writing one response frame. Default 10 seconds.
	WriteTimeout time.Duration

	// MaxFrameSize bounds a single request payload.
	// Default wire.DefaultMaxFrameSize.
	MaxFrameSize uint32

	// Logger receives structured connection and request logs.
	// Default slog.Default().
	Logger *slog.Logger
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.Addr == "" {
		out.Addr = "127.0.0.1:6380"
	}
	if out.ReadTimeout == 0 {
		out.ReadTimeout = 5 * time.Minute
	}
	if out.WriteTimeout == 0 {
		out.WriteTimeout = 10 * time.Second
	}
	if out.MaxFrameSize == 0 {
		out.MaxFrameSize = wire.DefaultMaxFrameSize
	}
	if out.Logger == nil {
		out.Logger = slog.Default()
	}
	return out
}

// Server accepts connections and serves the wire protocol against a shared
// Engine. The engine handle is passed in at construction so tests can run
// several servers over independent engines in one process.
type Server struct {
	cfg    Config
	eng    *engine.Engine
	log    *slog.Logger
	start  time.Time
	conns  atomic.Int64 // currently open connections
	served atomic.Int64 // requests handled since start

	listener net.Listener
}

// New creates a Server around an existing engine. The server does not own
// the engine: closing the server leaves the engine usable.
func New(eng *engine.Engine, cfg Config) *Server {
	cfg = cfg.withDefaults()
	return &Server{
		cfg:   cfg,
		eng:   eng,
		log:   cfg.Logger,
		start: time.Now(),
	}
}

// Addr returns the bound listen address, or nil before ListenAndServe.
// Useful with an Addr of "127.0.0.1:0" in tests.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Listen binds the configured address without accepting yet.
func (s *Server) Listen(ctx context.Context) error {
	var lc net.ListenConfig
	l, err := lc.Listen(ctx, "tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("server: listen on %s: %w", s.cfg.Addr, err)
	}
	s.listener = l
	s.log.Info("listening", "addr", l.Addr().String())
	return nil
}

// ListenAndServe binds the configured address and serves until ctx is
// cancelled or the listener fails. Connections open at cancellation are
// closed by their own handlers when the peer side notices; in-flight
// requests run to completion.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if s.listener == nil {
		if err := s.Listen(ctx); err != nil {
			return err
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-ctx.Done()
		return s.listener.Close()
	})
	g.Go(func() error {
		for {
			conn, err := s.listener.Accept()
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("server: accept: %w", err)
			}
			go s.handleConn(conn)
		}
	})
	return g.Wait()
}

// handleConn owns one connection for its whole lifetime.
func (s *Server) handleConn(conn net.Conn) {
	connID := uuid.NewString()
	log := s.log.With("conn_id", connID, "remote", conn.RemoteAddr().String())

	s.conns.Add(1)
	defer s.conns.Add(-1)
	defer conn.Close()

	// Single small request/response exchanges are latency-sensitive;
	// disable outgoing-packet coalescing so each response flushes at once.
	if tc, ok := conn.(*net.TCPConn); ok {
		if err := tc.SetNoDelay(true); err != nil {
			log.Warn("set nodelay failed", "error", err)
		}
	}

	log.Debug("connection opened")

	for {
		if err := conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout)); err != nil {
			log.Warn("set read deadline failed", "error", err)
			return
		}

		op, payload, err := wire.ReadFrame(conn, s.cfg.MaxFrameSize)
		if err != nil {
			// EOF is the normal end of a connection. Anything else,
			// including a peer vanishing mid-frame or an oversized
			// length, means the stream is no longer frame-aligned
			// and the connection is torn down. A partial frame has
			// no side effects on the engine.
			if !errors.Is(err, io.EOF) {
				log.Debug("connection closed", "error", err)
			} else {
				log.Debug("connection closed by peer")
			}
			return
		}

		status, respPayload := s.serveRequest(log, op, payload)
		s.served.Add(1)

		if err := conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout)); err != nil {
			log.Warn("set write deadline failed", "error", err)
			return
		}
		if err := wire.WriteFrame(conn, byte(status), respPayload); err != nil {
			log.Debug("write failed", "error", err)
			return
		}
	}
}

// serveRequest decodes, dispatches and encodes one request. It never
// returns a malformed frame and never panics the connection: every failure
// becomes a well-formed ERROR response.
func (s *Server) serveRequest(log *slog.Logger, op byte, payload []byte) (wire.Status, []byte) {
	req, err := wire.DecodeRequest(op, payload)
	if err != nil {
		log.Debug("bad request", "op", fmt.Sprintf("0x%02x", op), "error", err)
		return s.errorResponse(log, wire.Op(op), err)
	}

	status, respPayload, err := s.dispatch(req)
	if err != nil {
		return s.errorResponse(log, req.Op, err)
	}
	return status, respPayload
}

func (s *Server) dispatch(req *wire.Request) (wire.Status, []byte, error) {
	switch req.Op {
	case wire.OpGet:
		v, found := s.eng.Get(req.Key)
		if !found {
			return wire.StatusNull, nil, nil
		}
		return wire.StatusOK, wire.EncodeValue(v), nil

	case wire.OpSet:
		if err := s.eng.Set(req.Key, req.Value, req.TTL); err != nil {
			return 0, nil, err
		}
		return wire.StatusOK, wire.EncodeValue(kv.Null()), nil

	case wire.OpDel:
		return wire.StatusOK, wire.EncodeValue(kv.Bool(s.eng.Delete(req.Key))), nil

	case wire.OpExists:
		return wire.StatusOK, wire.EncodeValue(kv.Bool(s.eng.Exists(req.Key))), nil

	case wire.OpIncr, wire.OpDecr:
		delta := req.Delta
		if req.Op == wire.OpDecr {
			delta = -delta
		}
		n, err := s.eng.IncrBy(req.Key, delta)
		if err != nil {
			return 0, nil, err
		}
		return wire.StatusOK, wire.EncodeValue(kv.Int(n)), nil

	case wire.OpCAS:
		var expected *kv.Value
		if !req.ExpectAbsent {
			exp := req.Expected
			expected = &exp
		}
		swapped, err := s.eng.CompareAndSwap(req.Key, expected, req.Value)
		if err != nil {
			return 0, nil, err
		}
		return wire.StatusOK, wire.EncodeValue(kv.Bool(swapped)), nil

	case wire.OpPing:
		return wire.StatusOK, []byte(wire.PongPayload), nil

	case wire.OpInfo:
		return wire.StatusOK, wire.EncodeValue(s.info()), nil

	case wire.OpMGet:
		results := s.eng.MGet(req.Keys)
		elems := make([]kv.Value, len(results))
		for i, r := range results {
			if r.Found {
				elems[i] = r.Value
			} else {
				elems[i] = kv.Null()
			}
		}
		return wire.StatusOK, wire.EncodeValue(kv.ListOf(elems...)), nil

	case wire.OpMSet:
		items := make([]engine.Item, len(req.Items))
		for i, it := range req.Items {
			items[i] = engine.Item{Key: it.Key, Value: it.Value, TTL: it.TTL}
		}
		if err := s.eng.MSet(items); err != nil {
			return 0, nil, err
		}
		return wire.StatusOK, wire.EncodeValue(kv.Null()), nil

	case wire.OpMDel:
		return wire.StatusOK, wire.EncodeValue(kv.Int(s.eng.MDel(req.Keys))), nil

	case wire.OpMExists:
		flags := s.eng.MExists(req.Keys)
		elems := make([]kv.Value, len(flags))
		for i, f := range flags {
			elems[i] = kv.Bool(f)
		}
		return wire.StatusOK, wire.EncodeValue(kv.ListOf(elems...)), nil

	default:
		// DecodeRequest rejects unknown opcodes; this guards new ops
		// added to the codec before the server learns them.
		return 0, nil, &wire.ProtocolError{
			Message: fmt.Sprintf("unhandled opcode 0x%02x", byte(req.Op)),
		}
	}
}

// errorResponse maps engine and codec failures onto the wire error tokens.
// "Not found" never reaches here; it is a NULL status, not an error.
func (s *Server) errorResponse(log *slog.Logger, op wire.Op, err error) (wire.Status, []byte) {
	var token string
	switch {
	case errors.Is(err, engine.ErrKeyTooLong), errors.Is(err, engine.ErrEmptyKey),
		errors.Is(err, wire.ErrKeyTooLong):
		token = wire.TokenKeyTooLong
	case errors.Is(err, engine.ErrWrongType):
		token = wire.TokenWrongType
	case errors.Is(err, engine.ErrMaxMemory):
		token = wire.TokenMaxMemory
	case wire.IsProtocolError(err):
		token = wire.TokenProto
	default:
		token = wire.TokenGeneric
		log.Error("internal error", "op", op.String(), "error", err)
	}
	return wire.StatusError, wire.ErrorPayload(token, err.Error())
}

// info builds the INFO response map from engine and server counters.
func (s *Server) info() kv.Value {
	st := s.eng.Stats()
	return kv.MapOf(
		kv.Pair{Key: "version", Value: kv.Str(Version)},
		kv.Pair{Key: "uptime_seconds", Value: kv.Int(int64(time.Since(s.start).Seconds()))},
		kv.Pair{Key: "connections", Value: kv.Int(s.conns.Load())},
		kv.Pair{Key: "requests_served", Value: kv.Int(s.served.Load())},
		kv.Pair{Key: "keys", Value: kv.Int(st.Keys)},
		kv.Pair{Key: "shards", Value: kv.Int(int64(st.Shards))},
		kv.Pair{Key: "memory_bytes", Value: kv.Int(st.MemoryBytes)},
		kv.Pair{Key: "max_memory_bytes", Value: kv.Int(st.MaxMemory)},
		kv.Pair{Key: "expired_total", Value: kv.Int(st.ExpiredTotal)},
		kv.Pair{Key: "swept_total", Value: kv.Int(st.SweptTotal)},
	)
}

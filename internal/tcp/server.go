package tcp

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"strconv"
	"sync"

	"github.com/rebase-inc/knowledge-scanner/internal/adapter/cache"
)

// Handler processes one decoded JSON request and returns the response value
// to encode back to the client. Returning an error yields a JSON `null`
// response per spec.md §4.2; the connection stays open.
type Handler func(ctx context.Context, request json.RawMessage) (any, error)

// ServerConfig configures the callback server (C2).
type ServerConfig struct {
	Address    string
	Port       int
	BufferSize int
	// Memoized enables response memoization keyed by a canonical re-encoding
	// of the request. Requires Handler to be a pure function.
	Memoized bool
	// MemoCacheMaxSize caps the number of distinct cached entries; 0 means
	// unbounded (spec.md §9 Open Questions: adopt unbounded semantics by
	// default but expose a cap).
	MemoCacheMaxSize int
	// MemoStore, when set, backs memoization with a shared store (e.g.
	// Redis, so multiple server processes behind a load balancer share one
	// memoization window) instead of the process-local map. MemoCacheMaxSize
	// is ignored when MemoStore is set; eviction is the store's concern.
	MemoStore cache.Store
}

// Server is the request-multiplexing callback TCP server (C2). Each
// connection is served by its own goroutine; the accept loop and each
// connection goroutine are cancelled together on graceful shutdown.
type Server struct {
	cfg     ServerConfig
	handler Handler
	logger  *slog.Logger

	listener net.Listener
	wg       sync.WaitGroup

	memoMu sync.Mutex
	memo   map[string]json.RawMessage
	order  []string // insertion order, for MemoCacheMaxSize eviction
}

// NewServer returns a Server dispatching decoded requests to handler.
func NewServer(cfg ServerConfig, handler Handler, logger *slog.Logger) *Server {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultBufferSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:     cfg,
		handler: handler,
		logger:  logger,
		memo:    map[string]json.RawMessage{},
	}
}

// ListenAndServe binds the configured address and accepts connections until
// ctx is cancelled, at which point it stops accepting, closes in-flight
// connections, waits for their goroutines to return, and returns.
func (s *Server) ListenAndServe(ctx context.Context) error {
	addr := net.JoinHostPort(s.cfg.Address, portString(s.cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.listener = ln

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				s.wg.Wait()
				return nil
			default:
				return err
			}
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.serveConn(ctx, conn)
		}()
	}
}

// Shutdown blocks until all in-flight connections have been served,
// honoring ctx's deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.listener != nil {
		_ = s.listener.Close()
	}
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Server) serveConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()
	buf := make([]byte, 0, s.cfg.BufferSize)
	chunk := make([]byte, s.cfg.BufferSize)

	for {
		value, consumed, ok := decodePrefix(buf)
		if !ok {
			n, err := conn.Read(chunk)
			if n > 0 {
				buf = append(buf, chunk[:n]...)
			}
			if err != nil {
				if !errors.Is(err, io.EOF) {
					s.logger.Debug("connection read error", slog.Any("error", err))
				}
				return
			}
			continue
		}

		resp := s.respond(ctx, value)
		encoded, err := json.Marshal(resp)
		if err != nil {
			encoded = []byte("null")
		}
		if _, err := conn.Write(encoded); err != nil {
			return
		}

		// Consume exactly the decoded value; retain any bytes already read
		// past it (pipelined/fragmented next request) for the next loop.
		buf = append([]byte(nil), buf[consumed:]...)
	}
}

func (s *Server) respond(ctx context.Context, request json.RawMessage) any {
	if s.cfg.Memoized {
		key := canonicalKey(request)
		if cached, hit := s.lookupMemo(ctx, key); hit {
			return cached
		}
		result, err := s.invoke(ctx, request)
		if err != nil {
			s.logger.Warn("handler error", slog.Any("error", err))
			return nil
		}
		s.storeMemo(ctx, key, result)
		return result
	}

	result, err := s.invoke(ctx, request)
	if err != nil {
		s.logger.Warn("handler error", slog.Any("error", err))
		return nil
	}
	return result
}

func (s *Server) invoke(ctx context.Context, request json.RawMessage) (json.RawMessage, error) {
	result, err := s.handler(ctx, request)
	if err != nil {
		return nil, err
	}
	return json.Marshal(result)
}

func (s *Server) lookupMemo(ctx context.Context, key string) (json.RawMessage, bool) {
	if s.cfg.MemoStore != nil {
		v, ok, err := s.cfg.MemoStore.Get(ctx, key)
		if err != nil || !ok {
			return nil, false
		}
		return json.RawMessage(v), true
	}
	s.memoMu.Lock()
	defer s.memoMu.Unlock()
	v, ok := s.memo[key]
	return v, ok
}

func (s *Server) storeMemo(ctx context.Context, key string, value json.RawMessage) {
	if s.cfg.MemoStore != nil {
		_ = s.cfg.MemoStore.Set(ctx, key, value, 0)
		return
	}
	s.memoMu.Lock()
	defer s.memoMu.Unlock()
	if _, exists := s.memo[key]; !exists {
		s.order = append(s.order, key)
	}
	s.memo[key] = value
	if s.cfg.MemoCacheMaxSize > 0 {
		for len(s.order) > s.cfg.MemoCacheMaxSize {
			oldest := s.order[0]
			s.order = s.order[1:]
			delete(s.memo, oldest)
		}
	}
}

// canonicalKey re-encodes request through decode/encode so that semantically
// identical requests (e.g. differing only in incidental whitespace) share a
// memoization key.
func canonicalKey(request json.RawMessage) string {
	var v any
	if err := json.Unmarshal(request, &v); err != nil {
		return string(request)
	}
	canon, err := json.Marshal(v)
	if err != nil {
		return string(request)
	}
	return string(canon)
}

func portString(port int) string {
	return strconv.Itoa(port)
}

// Package server implements the shard data plane: a TCP listener speaking
// the RESP-2 subset, dispatching SET/GET/DEL/INFO/CONFIG against the LRU
// cache, with misses and evictions flowing through the persistent store.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/Bivas-Biswas/blink-db/internal/cache"
	"github.com/Bivas-Biswas/blink-db/internal/resp"
	"github.com/Bivas-Biswas/blink-db/internal/store"
	"github.com/rs/zerolog/log"
)

const readChunkSize = 4096

// Server owns one listening socket, the shard's cache, and its persistent
// store. Connection goroutines serialize on the server mutex so cache and
// store mutations stay ordered per connection.
type Server struct {
	mu       sync.Mutex
	cache    *cache.Cache
	store    *store.Store
	listener net.Listener
	addr     string
}

// New returns a server for addr backed by c and st. st may be nil when the
// shard runs without persistence.
func New(addr string, c *cache.Cache, st *store.Store) *Server {
	return &Server{cache: c, store: st, addr: addr}
}

// Start binds the configured address and serves connections until Stop
// closes the listener.
func (s *Server) Start() error {
	if err := s.Listen(); err != nil {
		return err
	}
	return s.Serve()
}

// Listen binds the configured address.
func (s *Server) Listen() error {
	lc := net.ListenConfig{}
	listener, err := lc.Listen(context.Background(), "tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.addr, err)
	}
	s.listener = listener
	log.Info().Str("addr", s.Addr()).Int64("maxmemory", s.cache.MaxBytes()).Msg("shard server listening")
	return nil
}

// Serve accepts connections until the listener closes. Each accepted
// connection gets its own goroutine.
func (s *Server) Serve() error {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if isClosed(err) {
				return nil
			}
			log.Warn().Err(err).Msg("accept failed")
			continue
		}
		go s.handleConnection(conn)
	}
}

// Addr returns the listener's bound address, useful when the configured
// address carried port 0.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.addr
	}
	return s.listener.Addr().String()
}

// Stop closes the listener, unblocking Start. In-flight connections finish
// their current commands and close on peer EOF.
func (s *Server) Stop() error {
	if s.listener != nil {
		return s.listener.Close()
	}
	return nil
}

// Flush drains the cache into the persistent store. Called on shutdown,
// after Stop.
func (s *Server) Flush() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache.Flush()
}

// handleConnection accumulates bytes until complete frames can be decoded,
// then dispatches each frame in arrival order and writes its reply before
// the next. A protocol error or read failure drops the connection.
func (s *Server) handleConnection(conn net.Conn) {
	defer conn.Close()

	var (
		buf   []byte
		chunk = make([]byte, readChunkSize)
		reply []byte
	)

	for {
		n, err := conn.Read(chunk)
		if err != nil {
			if err != io.EOF {
				log.Debug().Err(err).Msg("connection read failed")
			}
			return
		}
		buf = append(buf, chunk[:n]...)

		for {
			args, consumed, err := resp.ParseCommand(buf)
			if err == resp.ErrIncomplete {
				break
			}
			if err != nil {
				log.Warn().Err(err).Msg("malformed frame, dropping connection")
				return
			}
			buf = buf[consumed:]

			reply = s.dispatch(reply[:0], args)
			if _, err := conn.Write(reply); err != nil {
				log.Debug().Err(err).Msg("connection write failed")
				return
			}
		}

		// Frames decoded so far alias the front of buf; compact what is
		// left so the buffer does not grow without bound.
		if len(buf) > 0 {
			buf = append(buf[:0:0], buf...)
		} else {
			buf = nil
		}
	}
}

func isClosed(err error) bool {
	return errors.Is(err, net.ErrClosed)
}

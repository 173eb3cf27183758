// Package router implements the stateless front door for a fleet of
// shards. It terminates client connections, frames each RESP request,
// extracts the key, and relays the request to the shard owning that key's
// ring position over a one-shot upstream connection.
package router

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/Bivas-Biswas/blink-db/internal/hashring"
	"github.com/Bivas-Biswas/blink-db/internal/resp"
	"github.com/rs/zerolog/log"
)

const readChunkSize = 4096

// Router accepts client connections and forwards their commands to the
// responsible shards.
type Router struct {
	ring     *hashring.HashRing
	listener net.Listener
	addr     string
}

// New returns a router for addr over ring.
func New(addr string, ring *hashring.HashRing) *Router {
	return &Router{ring: ring, addr: addr}
}

// Start binds the configured address and serves client connections until
// Stop.
func (r *Router) Start() error {
	if err := r.Listen(); err != nil {
		return err
	}
	return r.Serve()
}

// Listen binds the configured address.
func (r *Router) Listen() error {
	lc := net.ListenConfig{}
	listener, err := lc.Listen(context.Background(), "tcp", r.addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", r.addr, err)
	}
	r.listener = listener
	log.Info().Str("addr", r.Addr()).Int("shards", r.ring.Size()).Msg("router listening")
	return nil
}

// Serve accepts client connections until the listener closes.
func (r *Router) Serve() error {
	for {
		conn, err := r.listener.Accept()
		if err != nil {
			if isClosed(err) {
				return nil
			}
			log.Warn().Err(err).Msg("accept failed")
			continue
		}
		go r.handleConnection(conn)
	}
}

// Addr returns the listener's bound address.
func (r *Router) Addr() string {
	if r.listener == nil {
		return r.addr
	}
	return r.listener.Addr().String()
}

// Stop closes the listener, unblocking Start.
func (r *Router) Stop() error {
	if r.listener != nil {
		return r.listener.Close()
	}
	return nil
}

// handleConnection frames one request at a time off the client, relays it
// upstream, and writes the shard's reply back. Protocol errors and
// upstream failures drop the client; there is no fallback shard.
func (r *Router) handleConnection(conn net.Conn) {
	defer conn.Close()

	var (
		buf   []byte
		chunk = make([]byte, readChunkSize)
	)

	for {
		n, err := conn.Read(chunk)
		if err != nil {
			if err != io.EOF {
				log.Debug().Err(err).Msg("client read failed")
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
				log.Warn().Err(err).Msg("malformed client frame, dropping connection")
				return
			}

			if err := r.relay(conn, buf[:consumed], args); err != nil {
				log.Warn().Err(err).Msg("relay failed, dropping client")
				return
			}
			buf = buf[consumed:]
		}

		if len(buf) > 0 {
			buf = append(buf[:0:0], buf...)
		} else {
			buf = nil
		}
	}
}

// relay forwards one framed request to the shard owning its key and copies
// the complete reply back to the client. The upstream connection is
// one-shot: open, send, receive, close.
func (r *Router) relay(client net.Conn, frame []byte, args [][]byte) error {
	if len(args) < 2 {
		return fmt.Errorf("request has no key")
	}
	key := string(args[1])

	shard, ok := r.ring.Get(key)
	if !ok {
		return fmt.Errorf("ring is empty")
	}

	upstream, err := net.Dial("tcp", shard.Addr())
	if err != nil {
		return fmt.Errorf("connect shard %s: %w", shard.Addr(), err)
	}
	defer upstream.Close()

	if _, err := upstream.Write(frame); err != nil {
		return fmt.Errorf("forward to shard %s: %w", shard.Addr(), err)
	}

	reply, err := readReply(upstream)
	if err != nil {
		return fmt.Errorf("read reply from shard %s: %w", shard.Addr(), err)
	}

	if _, err := client.Write(reply); err != nil {
		return fmt.Errorf("write reply to client: %w", err)
	}
	return nil
}

// readReply accumulates bytes from the shard until they frame one complete
// RESP reply, however many reads that takes.
func readReply(upstream net.Conn) ([]byte, error) {
	var (
		buf   []byte
		chunk = make([]byte, readChunkSize)
	)
	for {
		n, err := upstream.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
			total, ferr := resp.ReplyLen(buf)
			if ferr == nil {
				return buf[:total], nil
			}
			if ferr != resp.ErrIncomplete {
				return nil, ferr
			}
		}
		if err != nil {
			if err == io.EOF {
				return nil, io.ErrUnexpectedEOF
			}
			return nil, err
		}
	}
}

func isClosed(err error) bool {
	return errors.Is(err, net.ErrClosed)
}

package server

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"

	"github.com/Bivas-Biswas/blink-db/internal/cache"
	"github.com/Bivas-Biswas/blink-db/internal/resp"
)

// dispatch executes one parsed command frame and appends its reply to dst.
// Command names are case-insensitive. Unknown commands and arity mismatches
// reply with errors and keep the connection open.
func (s *Server) dispatch(dst []byte, args [][]byte) []byte {
	if len(args) == 0 {
		return resp.AppendError(dst, "Invalid command")
	}

	switch {
	case equalFold(args[0], "SET"):
		return s.handleSet(dst, args)
	case equalFold(args[0], "GET"):
		return s.handleGet(dst, args)
	case equalFold(args[0], "DEL"):
		return s.handleDel(dst, args)
	case equalFold(args[0], "INFO"):
		return s.handleInfo(dst, args)
	case equalFold(args[0], "CONFIG"):
		return s.handleConfig(dst, args)
	default:
		return resp.AppendError(dst, "Unknown command")
	}
}

func (s *Server) handleSet(dst []byte, args [][]byte) []byte {
	if len(args) != 3 {
		return resp.AppendError(dst, "SET command requires key and value")
	}
	key := string(args[1])

	s.mu.Lock()
	err := s.cache.Set(key, args[2])
	s.mu.Unlock()

	if errors.Is(err, cache.ErrEntryTooLarge) {
		return resp.AppendError(dst, "value too large for maxmemory")
	}
	return resp.AppendSimpleString(dst, "OK")
}

func (s *Server) handleGet(dst []byte, args [][]byte) []byte {
	if len(args) != 2 {
		return resp.AppendError(dst, "GET command requires key")
	}

	s.mu.Lock()
	value, ok := s.cache.Get(string(args[1]))
	s.mu.Unlock()

	if !ok {
		return resp.AppendNullBulk(dst)
	}
	return resp.AppendBulkString(dst, value)
}

func (s *Server) handleDel(dst []byte, args [][]byte) []byte {
	if len(args) < 2 {
		return resp.AppendError(dst, "DEL command requires key")
	}

	var count int64
	s.mu.Lock()
	for _, key := range args[1:] {
		if s.cache.Del(string(key)) {
			count++
		}
		// Tombstone the persistent copy too, so a deleted key cannot
		// resurrect through re-hydration.
		if s.store != nil {
			s.store.Remove(string(key))
		}
	}
	s.mu.Unlock()

	return resp.AppendInt(dst, count)
}

func (s *Server) handleInfo(dst []byte, args [][]byte) []byte {
	if len(args) != 1 {
		return resp.AppendError(dst, "INFO command takes no arguments")
	}

	s.mu.Lock()
	used := s.cache.UsedBytes()
	max := s.cache.MaxBytes()
	entries := s.cache.Len()
	s.mu.Unlock()

	info := fmt.Sprintf(
		"# Memory\r\nused_memory:%d\r\nmaxmemory:%d\r\nmaxmemory_policy:allkeys-lru\r\n# Stats\r\nkeyspace_hits:%d\r\n",
		used, max, entries)
	return resp.AppendBulkString(dst, []byte(info))
}

func (s *Server) handleConfig(dst []byte, args [][]byte) []byte {
	if len(args) < 2 {
		return resp.AppendError(dst, "CONFIG command requires subcommand")
	}
	if !equalFold(args[1], "GET") || len(args) != 3 {
		return resp.AppendSimpleString(dst, "Supported CONFIG commands: GET maxmemory, GET maxmemory-policy")
	}

	switch {
	case equalFold(args[2], "maxmemory"):
		s.mu.Lock()
		max := s.cache.MaxBytes()
		s.mu.Unlock()
		dst = resp.AppendArray(dst, 2)
		dst = resp.AppendBulkString(dst, []byte("maxmemory"))
		return resp.AppendBulkString(dst, strconv.AppendInt(nil, max, 10))
	case equalFold(args[2], "maxmemory-policy"):
		dst = resp.AppendArray(dst, 2)
		dst = resp.AppendBulkString(dst, []byte("maxmemory-policy"))
		return resp.AppendBulkString(dst, []byte("allkeys-lru"))
	default:
		return resp.AppendSimpleString(dst, "Supported CONFIG commands: GET maxmemory, GET maxmemory-policy")
	}
}

// equalFold reports whether b matches the ASCII command name s ignoring
// case.
func equalFold(b []byte, s string) bool {
	return len(b) == len(s) && bytes.EqualFold(b, []byte(s))
}

// Package store implements the persistent secondary store: an append-only
// data file of `<key> <value>\n` records, an in-memory trie mapping each
// live key to the offset of its newest record, and a counting existence
// filter that short-circuits lookups. A background compactor rewrites the
// file periodically, dropping superseded and tombstoned records.
package store

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// DefaultFilterSize is the bucket count used when the caller passes a
// non-positive filter size.
const DefaultFilterSize = 10000

// ErrUnstorable is returned by Insert for records the on-disk format cannot
// represent: an empty key, a key containing the separator (space) or
// terminator (newline) byte, or a value containing the terminator byte.
// Values may contain spaces; a record's value runs from the first space to
// the newline.
var ErrUnstorable = errors.New("store: key or value contains separator byte")

// Store is the persistent key-value store shared by the shard server and
// the background compactor. One mutex guards the trie, the filter, and the
// file handle.
type Store struct {
	mu       sync.Mutex
	index    *trie
	filter   *filter
	file     *os.File
	filename string
	tempname string

	compactLimiter *rate.Limiter
	stop           chan struct{}
	done           chan struct{}
}

// Open opens (or creates) the store named by path, replays the live file
// into the index and filter, and starts the compactor. compactInterval is
// the pacing between compaction cycles; filterSize the existence-filter
// bucket count.
func Open(path string, filterSize int, compactInterval rate.Limit) (*Store, error) {
	if filterSize <= 0 {
		filterSize = DefaultFilterSize
	}

	s := &Store{
		index:          newTrie(),
		filter:         newFilter(filterSize),
		filename:       path + ".txt",
		tempname:       path + ".temp.txt",
		compactLimiter: rate.NewLimiter(compactInterval, 1),
		stop:           make(chan struct{}),
		done:           make(chan struct{}),
	}

	file, err := os.OpenFile(s.filename, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open data file: %w", err)
	}
	s.file = file

	if err := s.syncIndex(); err != nil {
		file.Close()
		return nil, fmt.Errorf("replay data file: %w", err)
	}

	go s.compactLoop()
	return s, nil
}

// Close stops the compactor, waits for it, and closes the data file.
func (s *Store) Close() error {
	close(s.stop)
	<-s.done

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file.Close()
}

// Insert appends a record for key and indexes its offset. The write is
// atomic relative to other store writers because it happens under the
// store mutex.
func (s *Store) Insert(key string, value []byte) error {
	if !storable(key, value) {
		return ErrUnstorable
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	offset, err := s.file.Seek(0, io.SeekEnd)
	if err != nil {
		return fmt.Errorf("seek end: %w", err)
	}

	record := make([]byte, 0, len(key)+len(value)+2)
	record = append(record, key...)
	record = append(record, ' ')
	record = append(record, value...)
	record = append(record, '\n')
	if _, err := s.file.Write(record); err != nil {
		return fmt.Errorf("append record: %w", err)
	}

	s.index.insert(key, offset)
	s.filter.insert(key)
	return nil
}

// Get returns the newest value recorded for key. The stored key is read
// back and compared before the value is trusted, guarding against filter
// or file skew.
func (s *Store) Get(key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.filter.contains(key) {
		return nil, false, nil
	}
	offset, ok := s.index.search(key)
	if !ok {
		return nil, false, nil
	}

	storedKey, value, err := s.readRecord(offset)
	if err != nil {
		return nil, false, err
	}
	if storedKey != key {
		return nil, false, nil
	}
	return value, true, nil
}

// Remove tombstones key in the index and decrements its filter bucket. The
// record stays on disk until compaction drops it. A key that is unknown or
// already tombstoned is left alone, so a bucket it shares with live keys is
// not decremented on its behalf.
func (s *Store) Remove(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.index.search(key); !ok {
		return
	}
	s.index.remove(key)
	s.filter.remove(key)
}

func storable(key string, value []byte) bool {
	if len(key) == 0 {
		return false
	}
	if strings.ContainsAny(key, " \n") {
		return false
	}
	return !bytes.ContainsAny(value, "\n")
}

// readRecord reads the record starting at offset, returning the stored key
// and value. Caller holds the mutex.
func (s *Store) readRecord(offset int64) (string, []byte, error) {
	if _, err := s.file.Seek(offset, io.SeekStart); err != nil {
		return "", nil, fmt.Errorf("seek record: %w", err)
	}
	r := bufio.NewReader(s.file)
	line, err := r.ReadBytes('\n')
	if err != nil {
		return "", nil, fmt.Errorf("read record: %w", err)
	}
	line = line[:len(line)-1]
	sep := bytes.IndexByte(line, ' ')
	if sep < 0 {
		return "", nil, fmt.Errorf("record at offset %d has no separator", offset)
	}
	return string(line[:sep]), line[sep+1:], nil
}

// syncIndex replays the live file in order, so later records for the same
// key win, reconstructing the trie and filter exactly as successive
// Inserts would have.
func (s *Store) syncIndex() error {
	if _, err := s.file.Seek(0, io.SeekStart); err != nil {
		return err
	}
	r := bufio.NewReader(s.file)
	var offset int64
	for {
		line, err := r.ReadBytes('\n')
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		sep := bytes.IndexByte(line, ' ')
		if sep > 0 {
			key := string(line[:sep])
			s.index.insert(key, offset)
			s.filter.insert(key)
		}
		offset += int64(len(line))
	}
}

// compactLoop runs compaction cycles at the limiter's cadence until Close.
func (s *Store) compactLoop() {
	defer close(s.done)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-s.stop
		cancel()
	}()

	// Consume the initial token so the first cycle waits a full interval.
	s.compactLimiter.Allow()

	for {
		if err := s.compactLimiter.Wait(ctx); err != nil {
			return
		}
		if err := s.compact(); err != nil {
			log.Error().Err(err).Msg("compaction cycle failed")
		}
	}
}

// compact streams the live file into the scratch file, keeping only
// records that are still the newest for a live key, then atomically
// renames the scratch over the live file and swaps in the fresh index.
// Any failure before the rename leaves the live file intact.
func (s *Store) compact() error {
	temp, err := os.OpenFile(s.tempname, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("open scratch file: %w", err)
	}
	defer func() {
		if temp != nil {
			temp.Close()
			os.Remove(s.tempname)
		}
	}()

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.file.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("seek start: %w", err)
	}

	newIndex := newTrie()
	w := bufio.NewWriter(temp)
	r := bufio.NewReader(s.file)
	var pos, out int64
	for {
		line, err := r.ReadBytes('\n')
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("scan live file: %w", err)
		}
		recordPos := pos
		pos += int64(len(line))

		sep := bytes.IndexByte(line, ' ')
		if sep <= 0 {
			continue
		}
		key := string(line[:sep])

		// Keep only the record the index still points at: the newest
		// record of a key that has not been tombstoned.
		offset, ok := s.index.search(key)
		if !ok || offset != recordPos {
			continue
		}

		if _, err := w.Write(line); err != nil {
			return fmt.Errorf("write scratch: %w", err)
		}
		newIndex.insert(key, out)
		out += int64(len(line))
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("flush scratch: %w", err)
	}
	if err := temp.Close(); err != nil {
		temp = nil
		os.Remove(s.tempname)
		return fmt.Errorf("close scratch: %w", err)
	}
	temp = nil

	if err := os.Rename(s.tempname, s.filename); err != nil {
		os.Remove(s.tempname)
		return fmt.Errorf("swap data file: %w", err)
	}

	file, err := os.OpenFile(s.filename, os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("reopen data file: %w", err)
	}
	s.file.Close()
	s.file = file
	s.index = newIndex

	log.Debug().Int64("bytes", out).Msg("compaction cycle complete")
	return nil
}

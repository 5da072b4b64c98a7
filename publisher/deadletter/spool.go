package deadletter

import (
	"context"
	"encoding/binary"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/maxpert/fanout/cfg"
	"github.com/maxpert/fanout/encoding"
	"github.com/maxpert/fanout/publisher"
	"github.com/rs/zerolog/log"
)

// Key prefixes for Pebble storage
const (
	prefixSpool    = "/dlq/"   // /dlq/{visibleAtMs:016x}/{seq:016x}
	prefixSpoolSeq = "/dlqseq" // /dlqseq -> uint64 (last sequence)
)

// Pebble configuration constants
const (
	spoolMemTableSize          = 16 << 20 // 16MB
	spoolL0CompactionThreshold = 2
	spoolL0StopWritesThreshold = 12
)

const defaultDueLimit = 100

func init() {
	publisher.RegisterQueue("spool", func(config cfg.DeadLetterConfiguration) (publisher.DeadLetterQueue, error) {
		return NewSpool(config.URL)
	})
}

// Spool is a Pebble-backed local dead-letter queue ordered by visibility time
type Spool struct {
	db   *pebble.DB
	path string

	mu      sync.Mutex // Serializes writes and depth accounting
	lastSeq uint64
	depth   atomic.Int64

	closed atomic.Bool
}

// NewSpool creates or opens a spool under dataDir
func NewSpool(dataDir string) (*Spool, error) {
	spoolPath := filepath.Join(dataDir, "dead_letters")

	opts := &pebble.Options{
		MemTableSize:          spoolMemTableSize,
		L0CompactionThreshold: spoolL0CompactionThreshold,
		L0StopWritesThreshold: spoolL0StopWritesThreshold,
	}

	db, err := pebble.Open(spoolPath, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open dead letter spool at %s: %w", spoolPath, err)
	}

	s := &Spool{db: db, path: spoolPath}

	if err := s.loadLastSeq(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to load sequence number: %w", err)
	}

	depth, err := s.count()
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to count dead letters: %w", err)
	}
	s.depth.Store(int64(depth))

	if depth > 0 {
		log.Info().Int("dead_letters", depth).Str("path", spoolPath).Msg("Opened dead letter spool with backlog")
	}

	return s, nil
}

func (s *Spool) loadLastSeq() error {
	val, closer, err := s.db.Get([]byte(prefixSpoolSeq))
	if err == pebble.ErrNotFound {
		return nil
	}
	if err != nil {
		return err
	}
	defer closer.Close()

	if len(val) != 8 {
		return fmt.Errorf("invalid sequence value length: %d", len(val))
	}
	s.lastSeq = binary.LittleEndian.Uint64(val)
	return nil
}

func (s *Spool) count() (int, error) {
	prefix := []byte(prefixSpool)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: prefixUpperBound(prefix),
	})
	if err != nil {
		return 0, err
	}
	defer iter.Close()

	n := 0
	for iter.First(); iter.Valid(); iter.Next() {
		n++
	}
	return n, iter.Error()
}

// Enqueue persists the message durably before returning
func (s *Spool) Enqueue(_ context.Context, msg publisher.DeadLetterMessage) error {
	if s.closed.Load() {
		return fmt.Errorf("dead letter spool is closed")
	}

	val, err := encoding.Marshal(&msg)
	if err != nil {
		return fmt.Errorf("failed to marshal dead letter: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	seq := s.lastSeq + 1

	batch := s.db.NewBatch()
	defer batch.Close()

	if err := batch.Set([]byte(formatSpoolKey(msg.VisibleAt(), seq)), val, pebble.Sync); err != nil {
		return fmt.Errorf("failed to write dead letter: %w", err)
	}

	seqBuf := make([]byte, 8)
	binary.LittleEndian.PutUint64(seqBuf, seq)
	if err := batch.Set([]byte(prefixSpoolSeq), seqBuf, pebble.Sync); err != nil {
		return fmt.Errorf("failed to update sequence: %w", err)
	}

	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("failed to commit dead letter: %w", err)
	}

	// Only advance in-memory state after a successful commit
	s.lastSeq = seq
	s.depth.Add(1)
	return nil
}

// Due returns up to limit messages visible at now, oldest first
func (s *Spool) Due(_ context.Context, now time.Time, limit int) ([]publisher.DeadLetterMessage, error) {
	if s.closed.Load() {
		return nil, fmt.Errorf("dead letter spool is closed")
	}
	if limit <= 0 {
		limit = defaultDueLimit
	}

	// Everything strictly before the first key of the next millisecond is due
	lower := []byte(prefixSpool)
	upper := []byte(formatSpoolKey(now.Add(time.Millisecond), 0))

	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: lower,
		UpperBound: upper,
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	msgs := make([]publisher.DeadLetterMessage, 0, limit)
	for iter.First(); iter.Valid() && len(msgs) < limit; iter.Next() {
		val, err := iter.ValueAndErr()
		if err != nil {
			return nil, err
		}

		var msg publisher.DeadLetterMessage
		if err := encoding.Unmarshal(val, &msg); err != nil {
			// Corrupted entries can never be replayed
			key := string(iter.Key())
			log.Warn().Err(err).Str("key", key).Msg("Dropping dead letter that failed to unmarshal")
			if err := s.remove([]byte(key)); err != nil {
				return nil, fmt.Errorf("failed to drop corrupted dead letter %s: %w", key, err)
			}
			continue
		}
		msg.Receipt = string(iter.Key())
		msgs = append(msgs, msg)
	}

	if err := iter.Error(); err != nil {
		return nil, err
	}

	return msgs, nil
}

// Ack deletes a message returned by Due
func (s *Spool) Ack(_ context.Context, msg publisher.DeadLetterMessage) error {
	if s.closed.Load() {
		return fmt.Errorf("dead letter spool is closed")
	}
	if msg.Receipt == "" {
		return fmt.Errorf("dead letter %s has no receipt", msg.ID)
	}

	if err := s.remove([]byte(msg.Receipt)); err != nil {
		return fmt.Errorf("failed to delete dead letter %s: %w", msg.ID, err)
	}
	return nil
}

// remove deletes key if present and keeps the depth counter in step
func (s *Spool) remove(key []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, closer, err := s.db.Get(key)
	if err == pebble.ErrNotFound {
		return nil
	}
	if err != nil {
		return err
	}
	closer.Close()

	if err := s.db.Delete(key, pebble.Sync); err != nil {
		return err
	}
	s.depth.Add(-1)
	return nil
}

// Depth returns the number of spooled messages
func (s *Spool) Depth(_ context.Context) (int, error) {
	if s.closed.Load() {
		return 0, fmt.Errorf("dead letter spool is closed")
	}
	return int(s.depth.Load()), nil
}

// Close closes the Pebble database
func (s *Spool) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return fmt.Errorf("dead letter spool already closed")
	}
	return s.db.Close()
}

// formatSpoolKey orders keys by visibility time, then by enqueue sequence
func formatSpoolKey(visibleAt time.Time, seq uint64) string {
	ms := visibleAt.UnixMilli()
	if ms < 0 {
		ms = 0
	}
	return fmt.Sprintf("%s%016x/%016x", prefixSpool, uint64(ms), seq)
}

// prefixUpperBound returns the upper bound for a prefix scan
func prefixUpperBound(prefix []byte) []byte {
	end := make([]byte, len(prefix))
	copy(end, prefix)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end
		}
	}
	return nil // Prefix is all 0xff
}

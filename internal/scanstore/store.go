package scanstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "clamgate:verdict:"

// Verdict is the terminal classification of a scanned stream.
type Verdict string

const (
	VerdictClean    Verdict = "clean"
	VerdictInfected Verdict = "infected"
)

// Record is one completed scan.
type Record struct {
	ID         string    `json:"id,omitempty"`
	Digest     string    `json:"digest"`
	SizeBytes  int64     `json:"size_bytes"`
	Verdict    Verdict   `json:"verdict"`
	Signature  string    `json:"signature,omitempty"`
	DurationMs int64     `json:"duration_ms"`
	ScannedAt  time.Time `json:"scanned_at"`
}

// Store persists scan records to PostgreSQL and caches verdicts in Redis,
// keyed by content digest. Either backend may be nil: a nil pool disables
// the audit log, a nil Redis client disables the cache.
type Store struct {
	db    *pgxpool.Pool
	redis *redis.Client
	ttl   time.Duration
}

func New(db *pgxpool.Pool, rdb *redis.Client, cacheTTL time.Duration) *Store {
	return &Store{db: db, redis: rdb, ttl: cacheTTL}
}

// CachedVerdict returns a previously cached record for the digest, or nil on
// a miss. Cache failures degrade to a miss.
func (s *Store) CachedVerdict(ctx context.Context, digest string) *Record {
	if s.redis == nil {
		return nil
	}
	data, err := s.redis.Get(ctx, redisKeyPrefix+digest).Bytes()
	if err != nil {
		return nil
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil
	}
	return &rec
}

// Save writes the record to the audit log and caches its verdict.
func (s *Store) Save(ctx context.Context, rec Record) error {
	if s.redis != nil {
		if data, err := json.Marshal(rec); err == nil {
			s.redis.Set(ctx, redisKeyPrefix+rec.Digest, data, s.ttl)
		}
	}

	if s.db == nil {
		return nil
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO scans (digest, size_bytes, verdict, signature, duration_ms, scanned_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, rec.Digest, rec.SizeBytes, rec.Verdict, rec.Signature, rec.DurationMs, rec.ScannedAt)
	if err != nil {
		return fmt.Errorf("insert scan record: %w", err)
	}
	return nil
}

// LastScan returns the most recent audit record for the digest, or nil when
// none exists or the audit log is disabled.
func (s *Store) LastScan(ctx context.Context, digest string) (*Record, error) {
	if s.db == nil {
		return nil, nil
	}

	var rec Record
	err := s.db.QueryRow(ctx, `
		SELECT id, digest, size_bytes, verdict, signature, duration_ms, scanned_at
		FROM scans
		WHERE digest = $1
		ORDER BY scanned_at DESC
		LIMIT 1
	`, digest).Scan(
		&rec.ID,
		&rec.Digest,
		&rec.SizeBytes,
		&rec.Verdict,
		&rec.Signature,
		&rec.DurationMs,
		&rec.ScannedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("query scans: %w", err)
	}
	return &rec, nil
}

package forward

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog/log"
	"go.etcd.io/bbolt"
)

const (
	stateBucket    = "forwarder"
	keyLastAttempt = "last_attempt"
	keyMultiplier  = "multiplier"
)

// BoltState persists forwarder state across process restarts: the time
// of the last real forwarding attempt and the adaptive batch
// multiplier. Local to one worker, like any other in-process state.
type BoltState struct {
	db *bbolt.DB
}

// NewBoltState opens (or creates) the state file
func NewBoltState(dbPath string) (*BoltState, error) {
	db, err := bbolt.Open(dbPath, 0600, &bbolt.Options{
		Timeout: 1 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open state file (may be locked by another process): %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(stateBucket))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create state bucket: %w", err)
	}

	log.Info().
		Str("db_path", dbPath).
		Msg("Forwarder state store initialized")

	return &BoltState{db: db}, nil
}

// LastAttempt returns the time of the last real forwarding attempt,
// zero if none is recorded.
func (s *BoltState) LastAttempt() (time.Time, error) {
	var t time.Time

	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(stateBucket))
		if b == nil {
			return fmt.Errorf("bucket not found")
		}

		val := b.Get([]byte(keyLastAttempt))
		if val == nil {
			return nil
		}
		if len(val) < 8 {
			return fmt.Errorf("invalid last_attempt value")
		}

		t = time.Unix(0, int64(binary.BigEndian.Uint64(val)))
		return nil
	})
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to get last attempt: %w", err)
	}
	return t, nil
}

// SetLastAttempt records the time of a real forwarding attempt
func (s *BoltState) SetLastAttempt(t time.Time) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(stateBucket))
		if b == nil {
			return fmt.Errorf("bucket not found")
		}

		val := make([]byte, 8)
		binary.BigEndian.PutUint64(val, uint64(t.UnixNano()))
		return b.Put([]byte(keyLastAttempt), val)
	})
	if err != nil {
		return fmt.Errorf("failed to set last attempt: %w", err)
	}
	return nil
}

// Multiplier returns the persisted batch multiplier; ok=false if none
// has been stored yet.
func (s *BoltState) Multiplier() (float64, bool, error) {
	var m float64
	var ok bool

	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(stateBucket))
		if b == nil {
			return fmt.Errorf("bucket not found")
		}

		val := b.Get([]byte(keyMultiplier))
		if val == nil {
			return nil
		}
		if len(val) < 8 {
			return fmt.Errorf("invalid multiplier value")
		}

		m = math.Float64frombits(binary.BigEndian.Uint64(val))
		ok = true
		return nil
	})
	if err != nil {
		return 0, false, fmt.Errorf("failed to get multiplier: %w", err)
	}
	return m, ok, nil
}

// SetMultiplier persists the batch multiplier
func (s *BoltState) SetMultiplier(m float64) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(stateBucket))
		if b == nil {
			return fmt.Errorf("bucket not found")
		}

		val := make([]byte, 8)
		binary.BigEndian.PutUint64(val, math.Float64bits(m))
		return b.Put([]byte(keyMultiplier), val)
	})
	if err != nil {
		return fmt.Errorf("failed to set multiplier: %w", err)
	}
	return nil
}

// Close closes the state file
func (s *BoltState) Close() error {
	log.Info().Msg("Closing forwarder state store")
	return s.db.Close()
}

// Package history keeps a persistent log of pulled shots.
package history

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

const shotsBucket = "shots"

// DefaultMaxShots is how many shots are kept before the oldest are pruned.
const DefaultMaxShots = 1000

// Shot is one completed or aborted pull.
type Shot struct {
	ID        string    `json:"id"`
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
	Duration  float64   `json:"duration_seconds"`
	Weight    float64   `json:"weight"`
	StartTemp float64   `json:"start_temperature"`
	EndTemp   float64   `json:"end_temperature"`
	Aborted   bool      `json:"aborted"`
	Reason    string    `json:"reason,omitempty"`
}

// Store is a bbolt-backed shot log. Keys are insertion sequence numbers.
type Store struct {
	db       *bolt.DB
	maxShots int
}

// Open opens or creates the shot database at path.
func Open(path string, maxShots int) (*Store, error) {
	if maxShots <= 0 {
		maxShots = DefaultMaxShots
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(shotsBucket))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create bucket: %w", err)
	}
	return &Store{db: db, maxShots: maxShots}, nil
}

// Add appends a shot, pruning the oldest entries beyond the limit.
func (s *Store) Add(shot Shot) error {
	data, err := json.Marshal(shot)
	if err != nil {
		return fmt.Errorf("marshal shot: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(shotsBucket))
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		if err := b.Put(itob(seq), data); err != nil {
			return err
		}

		n := 0
		c := b.Cursor()
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			n++
		}
		for k, _ := c.First(); k != nil && n > s.maxShots; k, _ = c.First() {
			if err := b.Delete(k); err != nil {
				return err
			}
			n--
		}
		return nil
	})
}

// List returns up to limit shots, newest first. limit <= 0 returns all.
func (s *Store) List(limit int) ([]Shot, error) {
	shots := []Shot{}
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket([]byte(shotsBucket)).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if limit > 0 && len(shots) >= limit {
				break
			}
			var shot Shot
			if err := json.Unmarshal(v, &shot); err != nil {
				return fmt.Errorf("decode shot %d: %w", binary.BigEndian.Uint64(k), err)
			}
			shots = append(shots, shot)
		}
		return nil
	})
	return shots, err
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func itob(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

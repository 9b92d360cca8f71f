// Package decayqueue implements decayjob.Queue as a durable, single-file
// bbolt job queue: FIFO ordering via a monotonic sequence, job bodies
// stored JSON-encoded keyed by ID.
package decayqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"alfred-ai/internal/usecase/decayjob"
)

var (
	bucketJobs  = []byte("jobs")
	bucketOrder = []byte("order") // sequence -> job id, drained in key order
)

// Store implements decayjob.Queue over a single bbolt file.
type Store struct {
	db *bbolt.DB
}

// New opens (or creates) a bbolt database at path and ensures the
// top-level buckets exist.
func New(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("decayqueue: open: %w", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketJobs); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(bucketOrder)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("decayqueue: init buckets: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database file.
func (s *Store) Close() error {
	return s.db.Close()
}

// Enqueue implements decayjob.Queue, appending job to the tail of the FIFO.
func (s *Store) Enqueue(_ context.Context, job decayjob.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("decayqueue: marshal job: %w", err)
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		jobs := tx.Bucket(bucketJobs)
		order := tx.Bucket(bucketOrder)
		if err := jobs.Put([]byte(job.ID), data); err != nil {
			return err
		}
		seq, err := order.NextSequence()
		if err != nil {
			return err
		}
		return order.Put(seqKey(seq), []byte(job.ID))
	})
}

// Dequeue implements decayjob.Queue, popping the oldest enqueued job still
// present in the jobs bucket (an order entry whose job body is missing is
// deleted and skipped).
func (s *Store) Dequeue(_ context.Context) (*decayjob.Job, bool, error) {
	var job *decayjob.Job
	err := s.db.Update(func(tx *bbolt.Tx) error {
		jobs := tx.Bucket(bucketJobs)
		order := tx.Bucket(bucketOrder)
		c := order.Cursor()
		for k, idBytes := c.First(); k != nil; k, idBytes = c.Next() {
			raw := jobs.Get(idBytes)
			if raw == nil {
				if err := order.Delete(k); err != nil {
					return err
				}
				continue
			}
			var j decayjob.Job
			if err := json.Unmarshal(raw, &j); err != nil {
				return fmt.Errorf("decayqueue: unmarshal job: %w", err)
			}
			if err := order.Delete(k); err != nil {
				return err
			}
			job = &j
			return nil
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return job, job != nil, nil
}

// Update implements decayjob.Queue, overwriting the stored job body in
// place for status/progress/attempt transitions. The job has already left
// the FIFO order bucket by the time Update is called (Dequeue removes the
// order entry immediately), so this never re-enters the drain loop.
func (s *Store) Update(_ context.Context, job decayjob.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("decayqueue: marshal job: %w", err)
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		jobs := tx.Bucket(bucketJobs)
		return jobs.Put([]byte(job.ID), data)
	})
}

func seqKey(seq uint64) []byte {
	return []byte(fmt.Sprintf("%020d", seq))
}

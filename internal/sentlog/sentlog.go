// Package sentlog journals successful dispatches so a crash between sending
// and saving state cannot turn into a duplicate send on the next cycle.
package sentlog

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"
)

var sentBucket = []byte("sent")

// Entry records one successful dispatch of a reminder occurrence. The
// occurrence is identified by the instant the run was scheduled for, not the
// instant it was sent.
type Entry struct {
	ReminderID   uuid.UUID
	EntryRef     string
	ScheduledFor time.Time
	SentAt       time.Time
}

type Log struct {
	db *bbolt.DB
}

func Open(path string) (*Log, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open sent log: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(sentBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Log{db: db}, nil
}

func (l *Log) Close() error {
	return l.db.Close()
}

// Occurrences are keyed at second precision, which is as fine as the
// scheduling domain gets.
func key(id uuid.UUID, scheduledFor time.Time) []byte {
	return []byte(id.String() + "|" + strconv.FormatInt(scheduledFor.Unix(), 10))
}

func (l *Log) MarkSent(e Entry) error {
	return l.db.Update(func(tx *bbolt.Tx) error {
		var buf bytes.Buffer
		if err := gob.NewEncoder(&buf).Encode(e); err != nil {
			return err
		}
		return tx.Bucket(sentBucket).Put(key(e.ReminderID, e.ScheduledFor), buf.Bytes())
	})
}

// Lookup returns the recorded dispatch for the given occurrence, or nil when
// it was never marked.
func (l *Log) Lookup(id uuid.UUID, scheduledFor time.Time) (*Entry, error) {
	var found *Entry
	err := l.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(sentBucket).Get(key(id, scheduledFor))
		if data == nil {
			return nil
		}
		var e Entry
		if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&e); err != nil {
			return err
		}
		found = &e
		return nil
	})
	return found, err
}

// Prune drops entries sent before the cutoff and reports how many were
// removed.
func (l *Log) Prune(cutoff time.Time) (int, error) {
	removed := 0
	err := l.db.Update(func(tx *bbolt.Tx) error {
		cur := tx.Bucket(sentBucket).Cursor()
		for k, v := cur.First(); k != nil; k, v = cur.Next() {
			var e Entry
			if err := gob.NewDecoder(bytes.NewReader(v)).Decode(&e); err != nil {
				// Unreadable entries are dead weight, drop them too.
				if err := cur.Delete(); err != nil {
					return err
				}
				removed++
				continue
			}
			if e.SentAt.Before(cutoff) {
				if err := cur.Delete(); err != nil {
					return err
				}
				removed++
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}

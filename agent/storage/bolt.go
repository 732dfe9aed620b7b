package storage

import (
	"encoding/json"
	"fmt"

	"github.com/golang/glog"
	"github.com/lainio/err2"
	"github.com/lainio/err2/try"
	bolt "go.etcd.io/bbolt"
)

// BoltStore is a Store over a single bbolt file. Every record type has its
// own bucket where records are stored by ID.
type BoltStore struct {
	db *bolt.DB
}

// OpenBoltStore opens or creates the bbolt file.
func OpenBoltStore(filename string) (s *BoltStore, err error) {
	defer err2.Handle(&err, "open bolt store %s", filename)

	db := try.To1(bolt.Open(filename, 0600, nil))
	glog.V(3).Infoln("bolt store opened:", filename)
	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Close() error {
	glog.V(3).Infoln("bolt store close")
	return s.db.Close()
}

func (s *BoltStore) Add(rec WalletRecord) (err error) {
	defer err2.Handle(&err, "add %s", rec.Type)

	data := try.To1(json.Marshal(rec))
	return s.db.Update(func(tx *bolt.Tx) (err error) {
		defer err2.Handle(&err)

		b := try.To1(tx.CreateBucketIfNotExists([]byte(rec.Type)))
		if b.Get([]byte(rec.ID)) != nil {
			return fmt.Errorf("%s with id %s: %w", rec.Type, rec.ID, ErrAlreadyExists)
		}
		try.To(b.Put([]byte(rec.ID), data))
		return nil
	})
}

func (s *BoltStore) Update(rec WalletRecord) (err error) {
	defer err2.Handle(&err, "update %s", rec.Type)

	data := try.To1(json.Marshal(rec))
	return s.db.Update(func(tx *bolt.Tx) (err error) {
		defer err2.Handle(&err)

		b := tx.Bucket([]byte(rec.Type))
		if b == nil || b.Get([]byte(rec.ID)) == nil {
			return fmt.Errorf("%s with id %s: %w", rec.Type, rec.ID, ErrNotFound)
		}
		try.To(b.Put([]byte(rec.ID), data))
		return nil
	})
}

func (s *BoltStore) Delete(recordType, id string) (err error) {
	defer err2.Handle(&err, "delete %s", recordType)

	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(recordType))
		if b == nil || b.Get([]byte(id)) == nil {
			return fmt.Errorf("%s with id %s: %w", recordType, id, ErrNotFound)
		}
		return b.Delete([]byte(id))
	})
}

func (s *BoltStore) Get(recordType, id string) (rec *WalletRecord, err error) {
	defer err2.Handle(&err, "get %s", recordType)

	try.To(s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(recordType))
		if b == nil {
			return fmt.Errorf("%s with id %s: %w", recordType, id, ErrNotFound)
		}
		data := b.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("%s with id %s: %w", recordType, id, ErrNotFound)
		}
		rec = new(WalletRecord)
		return json.Unmarshal(data, rec)
	}))
	return rec, nil
}

func (s *BoltStore) Search(recordType string, q Query) (recs []WalletRecord, err error) {
	defer err2.Handle(&err, "search %s", recordType)

	try.To(s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(recordType))
		if b == nil {
			return nil
		}
		return b.ForEach(func(_, v []byte) error {
			var rec WalletRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			if q.Match(rec.Tags) {
				recs = append(recs, rec)
			}
			return nil
		})
	}))
	return recs, nil
}

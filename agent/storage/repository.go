package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/findy-network/findy-didcomm/agent/utils"
	"github.com/golang/glog"
	"github.com/lainio/err2"
	"github.com/lainio/err2/assert"
	"github.com/lainio/err2/try"
)

// Repository is a typed view to the Store for one record type. T is a pointer
// type to a struct embedding BaseRecord.
type Repository[T Record] struct {
	store      Store
	recordType string
	newRecord  func() T
}

// NewRepository creates a repository. The newRecord function must return a
// new empty record which is used to decode the stored JSON.
func NewRepository[T Record](store Store, newRecord func() T) *Repository[T] {
	assert.INotNil(store)
	return &Repository[T]{
		store:      store,
		recordType: newRecord().RecordType(),
		newRecord:  newRecord,
	}
}

func (r *Repository[T]) RecordType() string {
	return r.recordType
}

// Save stores a new record. It fails with ErrAlreadyExists if the record is
// already stored. An empty ID is generated.
func (r *Repository[T]) Save(rec T) (err error) {
	defer err2.Handle(&err)

	b := rec.Base()
	if b.ID == "" {
		b.ID = utils.UUID()
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now().UTC()
	}
	try.To(r.store.Add(r.toWalletRecord(rec)))
	glog.V(5).Infoln("saved", r.recordType, b.ID)
	return nil
}

// Update stores the current state of the record. It fails with ErrNotFound
// if the record isn't saved before.
func (r *Repository[T]) Update(rec T) (err error) {
	defer err2.Handle(&err)

	now := time.Now().UTC()
	rec.Base().UpdatedAt = &now
	try.To(r.store.Update(r.toWalletRecord(rec)))
	glog.V(5).Infoln("updated", r.recordType, rec.Base().ID)
	return nil
}

func (r *Repository[T]) Delete(rec T) error {
	return r.store.Delete(r.recordType, rec.Base().ID)
}

func (r *Repository[T]) DeleteByID(id string) error {
	return r.store.Delete(r.recordType, id)
}

// GetByID returns the record or ErrNotFound.
func (r *Repository[T]) GetByID(id string) (rec T, err error) {
	defer err2.Handle(&err)

	wr := try.To1(r.store.Get(r.recordType, id))
	return r.fromWalletRecord(*wr)
}

// FindByID returns the record or nil if it's not found.
func (r *Repository[T]) FindByID(id string) (rec T, err error) {
	rec, err = r.GetByID(id)
	if errors.Is(err, ErrNotFound) {
		var none T
		return none, nil
	}
	return rec, err
}

func (r *Repository[T]) GetAll() ([]T, error) {
	return r.FindByQuery(Query{})
}

// FindByQuery returns all the matching records. Zero matches isn't an error.
func (r *Repository[T]) FindByQuery(q Query) (recs []T, err error) {
	defer err2.Handle(&err)

	wrs := try.To1(r.store.Search(r.recordType, q))
	recs = make([]T, 0, len(wrs))
	for _, wr := range wrs {
		recs = append(recs, try.To1(r.fromWalletRecord(wr)))
	}
	return recs, nil
}

// FindSingleByQuery returns the matching record or nil if nothing matches.
// It fails with ErrMultipleMatches when more than one record matches.
func (r *Repository[T]) FindSingleByQuery(q Query) (rec T, err error) {
	defer err2.Handle(&err)

	recs := try.To1(r.FindByQuery(q))
	switch len(recs) {
	case 0:
		return rec, nil
	case 1:
		return recs[0], nil
	default:
		return rec, fmt.Errorf("%s: %d matches: %w",
			r.recordType, len(recs), ErrMultipleMatches)
	}
}

// GetSingleByQuery is FindSingleByQuery where zero matches is ErrNotFound.
func (r *Repository[T]) GetSingleByQuery(q Query) (rec T, err error) {
	defer err2.Handle(&err)

	recs := try.To1(r.FindByQuery(q))
	switch len(recs) {
	case 0:
		return rec, fmt.Errorf("%s by query: %w", r.recordType, ErrNotFound)
	case 1:
		return recs[0], nil
	default:
		return rec, fmt.Errorf("%s: %d matches: %w",
			r.recordType, len(recs), ErrMultipleMatches)
	}
}

func (r *Repository[T]) toWalletRecord(rec T) WalletRecord {
	return WalletRecord{
		ID:    rec.Base().ID,
		Type:  r.recordType,
		Value: string(try.To1(json.Marshal(rec))),
		Tags:  Tags(rec),
	}
}

func (r *Repository[T]) fromWalletRecord(wr WalletRecord) (rec T, err error) {
	defer err2.Handle(&err, "decode %s", r.recordType)

	rec = r.newRecord()
	try.To(json.Unmarshal([]byte(wr.Value), rec))
	return rec, nil
}

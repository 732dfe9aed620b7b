/*
Package storage implements the persisted, tag-indexed record repository of the
agent. Records are serialized as JSON into wallet records which a Store keeps
per record type. The only Store implementation in this package is the bbolt
based BoltStore.
*/
package storage

import (
	"errors"
	"fmt"

	spi "github.com/hyperledger/aries-framework-go/spi/storage"
)

var (
	// ErrNotFound is returned when a record is mandatory but missing.
	ErrNotFound = fmt.Errorf("record not found: %w", spi.ErrDataNotFound)

	// ErrAlreadyExists is returned when a record with the same type and ID
	// is saved twice.
	ErrAlreadyExists = errors.New("record already exists")

	// ErrMultipleMatches is returned when a single record query matches
	// more than one record.
	ErrMultipleMatches = errors.New("multiple records match the query")
)

// WalletRecord is the persistence boundary shape of every record: the JSON
// encoded record as value and its tags as a flat string map.
type WalletRecord struct {
	ID    string            `json:"id"`
	Type  string            `json:"type"`
	Value string            `json:"value"`
	Tags  map[string]string `json:"tags,omitempty"`
}

// Store persists wallet records by type and ID.
type Store interface {
	Add(rec WalletRecord) error
	Update(rec WalletRecord) error
	Delete(recordType, id string) error
	Get(recordType, id string) (*WalletRecord, error)
	Search(recordType string, q Query) ([]WalletRecord, error)
	Close() error
}

// Query is a tag query. All Tags must match and, if Or is given, at least one
// of the Or queries must match as well. An empty query matches everything.
type Query struct {
	Tags map[string]string
	Or   []Query
}

// TagQuery builds a query from key value pairs, e.g. TagQuery("state",
// "done", "role", "sender").
func TagQuery(kv ...string) Query {
	q := Query{Tags: make(map[string]string, len(kv)/2)}
	for i := 0; i+1 < len(kv); i += 2 {
		q.Tags[kv[i]] = kv[i+1]
	}
	return q
}

// Match tells if the tags fulfill the query.
func (q Query) Match(tags map[string]string) bool {
	for k, v := range q.Tags {
		if tv, ok := tags[k]; !ok || tv != v {
			return false
		}
	}
	if len(q.Or) == 0 {
		return true
	}
	for _, sub := range q.Or {
		if sub.Match(tags) {
			return true
		}
	}
	return false
}

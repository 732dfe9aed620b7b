package storage

import (
	"errors"
	"flag"
	"os"
	"path/filepath"
	"testing"

	"github.com/lainio/err2/assert"
	"github.com/lainio/err2/try"
)

type testRecord struct {
	BaseRecord
	Name  string `json:"name"`
	Group string `json:"group"`
}

func (r *testRecord) RecordType() string {
	return "TestRecord"
}

func (r *testRecord) TagValues() map[string]string {
	return map[string]string{
		"name":  r.Name,
		"group": r.Group,
	}
}

var (
	dir   string
	store *BoltStore
	repo  *Repository[*testRecord]
)

func TestMain(m *testing.M) {
	setUp()
	code := m.Run()
	tearDown()
	os.Exit(code)
}

func setUp() {
	_ = flag.Set("logtostderr", "true")
	_ = flag.Set("v", "0")

	dir = try.To1(os.MkdirTemp("", "storage-test"))
	store = try.To1(OpenBoltStore(filepath.Join(dir, "test.bolt")))
	repo = NewRepository(store, func() *testRecord { return new(testRecord) })
}

func tearDown() {
	_ = store.Close()
	_ = os.RemoveAll(dir)
}

func TestRepository_SaveAndGet(t *testing.T) {
	assert.PushTester(t)
	defer assert.PopTester()

	r := &testRecord{Name: "alice", Group: "save"}
	assert.NoError(repo.Save(r))
	assert.NotEmpty(r.ID)
	assert.That(!r.CreatedAt.IsZero())

	got, err := repo.GetByID(r.ID)
	assert.NoError(err)
	assert.Equal(got.Name, "alice")
	assert.Equal(got.CreatedAt.Unix(), r.CreatedAt.Unix())

	err = repo.Save(r)
	assert.Error(err)
	assert.That(errors.Is(err, ErrAlreadyExists))
}

func TestRepository_UpdateMissing(t *testing.T) {
	assert.PushTester(t)
	defer assert.PopTester()

	r := &testRecord{BaseRecord: BaseRecord{ID: "missing"}, Name: "bob"}
	err := repo.Update(r)
	assert.Error(err)
	assert.That(errors.Is(err, ErrNotFound))

	_, err = repo.GetByID("missing")
	assert.That(errors.Is(err, ErrNotFound))

	found, err := repo.FindByID("missing")
	assert.NoError(err)
	assert.That(found == nil)
}

func TestRepository_UpdateRecomputesTags(t *testing.T) {
	assert.PushTester(t)
	defer assert.PopTester()

	r := &testRecord{Name: "carol", Group: "update-old"}
	assert.NoError(repo.Save(r))

	r.Group = "update-new"
	assert.NoError(repo.Update(r))
	assert.That(r.UpdatedAt != nil)

	old, err := repo.FindByQuery(TagQuery("group", "update-old"))
	assert.NoError(err)
	assert.SLen(old, 0)

	found, err := repo.GetSingleByQuery(TagQuery("group", "update-new"))
	assert.NoError(err)
	assert.Equal(found.ID, r.ID)
}

func TestRepository_SingleQueries(t *testing.T) {
	assert.PushTester(t)
	defer assert.PopTester()

	assert.NoError(repo.Save(&testRecord{Name: "d1", Group: "single"}))
	assert.NoError(repo.Save(&testRecord{Name: "d2", Group: "single"}))

	_, err := repo.FindSingleByQuery(TagQuery("group", "single"))
	assert.That(errors.Is(err, ErrMultipleMatches))

	_, err = repo.GetSingleByQuery(TagQuery("group", "single"))
	assert.That(errors.Is(err, ErrMultipleMatches))

	_, err = repo.GetSingleByQuery(TagQuery("group", "nobody"))
	assert.That(errors.Is(err, ErrNotFound))

	none, err := repo.FindSingleByQuery(TagQuery("group", "nobody"))
	assert.NoError(err)
	assert.That(none == nil)

	all, err := repo.FindByQuery(TagQuery("group", "nobody"))
	assert.NoError(err)
	assert.SLen(all, 0)
}

func TestRepository_FreeTagsAndDelete(t *testing.T) {
	assert.PushTester(t)
	defer assert.PopTester()

	r := &testRecord{Name: "eve", Group: "delete"}
	r.SetTag("color", "blue")
	assert.NoError(repo.Save(r))

	found, err := repo.GetSingleByQuery(TagQuery("color", "blue", "name", "eve"))
	assert.NoError(err)
	assert.Equal(found.Tag("color"), "blue")

	assert.NoError(repo.Delete(found))
	_, err = repo.GetByID(r.ID)
	assert.That(errors.Is(err, ErrNotFound))
	assert.That(errors.Is(repo.DeleteByID(r.ID), ErrNotFound))
}

func TestQuery_Match(t *testing.T) {
	tags := map[string]string{"a": "1", "b": "2"}
	tests := []struct {
		name string
		q    Query
		want bool
	}{
		{"empty", Query{}, true},
		{"all", TagQuery("a", "1", "b", "2"), true},
		{"wrong value", TagQuery("a", "2"), false},
		{"missing tag", TagQuery("c", "1"), false},
		{"or hit", Query{Or: []Query{TagQuery("a", "9"), TagQuery("b", "2")}}, true},
		{"or miss", Query{Or: []Query{TagQuery("a", "9"), TagQuery("b", "9")}}, false},
		{"and with or", Query{Tags: map[string]string{"a": "1"},
			Or: []Query{TagQuery("b", "2")}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.PushTester(t)
			defer assert.PopTester()

			assert.Equal(tt.q.Match(tags), tt.want)
		})
	}
}

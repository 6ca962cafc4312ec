package snapshot

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakeReporter struct {
	mu   sync.Mutex
	errs []error
}

func (r *fakeReporter) Report(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
}

func (r *fakeReporter) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.errs)
}

func TestStore_SaveThenGet(t *testing.T) {
	reporter := &fakeReporter{}
	s := New(t.TempDir(), reporter, nil)

	s.Save("config/unit-a/DEFAULT/db.yaml", "host: localhost")

	got := s.Get("config/unit-a/DEFAULT/db.yaml")
	assert.NotNil(t, got)
	assert.Equal(t, "host: localhost", *got)
	assert.Equal(t, 0, reporter.count())
}

func TestStore_GetMissingReturnsNilWithoutError(t *testing.T) {
	reporter := &fakeReporter{}
	s := New(t.TempDir(), reporter, nil)

	got := s.Get("config/unit-a/DEFAULT/missing.yaml")
	assert.Nil(t, got)
	assert.Equal(t, 0, reporter.count())
}

func TestStore_Delete(t *testing.T) {
	reporter := &fakeReporter{}
	s := New(t.TempDir(), reporter, nil)

	s.Save("config/unit-a/DEFAULT/db.yaml", "v1")
	s.Delete("config/unit-a/DEFAULT/db.yaml")

	assert.Nil(t, s.Get("config/unit-a/DEFAULT/db.yaml"))
}

func TestStore_BatchSaveAllEntriesWritten(t *testing.T) {
	reporter := &fakeReporter{}
	s := New(t.TempDir(), reporter, nil)

	entries := map[string]string{
		"config/unit-a/DEFAULT/a.yaml": "content-a",
		"config/unit-a/DEFAULT/b.yaml": "content-b",
		"config/unit-a/DEFAULT/c.yaml": "content-c",
	}
	s.BatchSave(entries)

	for key, want := range entries {
		got := s.Get(key)
		assert.NotNil(t, got)
		assert.Equal(t, want, *got)
	}
}

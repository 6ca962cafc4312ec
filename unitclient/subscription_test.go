package unitclient

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// waitFor polls until cond returns true or the deadline passes.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

func TestSubscribe_EmitsOnlyOnContentChange(t *testing.T) {
	var content atomic.Value
	content.Store("v1")

	mux := http.NewServeMux()
	mux.HandleFunc("/diamond-server/config.co", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(content.Load().(string)))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	c := newTestUnitClient(t, server)

	var mu sync.Mutex
	var received []string
	unsubscribe := c.Subscribe("db.yaml", "DEFAULT_GROUP", func(v string) {
		mu.Lock()
		received = append(received, v)
		mu.Unlock()
	})
	defer unsubscribe()

	waitFor(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == 1
	})

	sub, ok := c.lookupSubscription("db.yaml", "DEFAULT_GROUP")
	assert.True(t, ok)

	// Resync with the same content must not emit again.
	c.syncConfigs([]*subscription{sub})
	c.syncConfigs([]*subscription{sub})

	mu.Lock()
	assert.Equal(t, 1, len(received))
	mu.Unlock()

	content.Store("v2")
	c.syncConfigs([]*subscription{sub})

	waitFor(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == 2
	})

	mu.Lock()
	assert.Equal(t, []string{"v1", "v2"}, received)
	mu.Unlock()
}

func TestSubscribe_NewListenerGetsCachedValueImmediately(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/diamond-server/config.co", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("cached-value"))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	c := newTestUnitClient(t, server)

	var firstCalls int32
	unsub1 := c.Subscribe("db.yaml", "DEFAULT_GROUP", func(v string) {
		atomic.AddInt32(&firstCalls, 1)
	})
	defer unsub1()

	waitFor(t, time.Second, func() bool { return atomic.LoadInt32(&firstCalls) == 1 })

	var secondValue string
	var secondCalled int32
	unsub2 := c.Subscribe("db.yaml", "DEFAULT_GROUP", func(v string) {
		secondValue = v
		atomic.AddInt32(&secondCalled, 1)
	})
	defer unsub2()

	waitFor(t, time.Second, func() bool { return atomic.LoadInt32(&secondCalled) == 1 })
	assert.Equal(t, "cached-value", secondValue)
}

func TestSubscribe_ConcurrentSubscribesCoalesceIntoOneSubscription(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/diamond-server/config.co", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("v1"))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	c := newTestUnitClient(t, server)

	var wg sync.WaitGroup
	unsubs := make([]func(), 10)
	for i := 0; i < 10; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			unsubs[i] = c.Subscribe("db.yaml", "DEFAULT_GROUP", func(string) {})
		}()
	}
	wg.Wait()

	sub, ok := c.lookupSubscription("db.yaml", "DEFAULT_GROUP")
	assert.True(t, ok)
	sub.mu.Lock()
	assert.Equal(t, 10, len(sub.listeners))
	sub.mu.Unlock()

	for _, u := range unsubs {
		u()
	}
	_, ok = c.lookupSubscription("db.yaml", "DEFAULT_GROUP")
	assert.False(t, ok)
}

func TestUnsubscribe_RemovesOnlyThatListener(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/diamond-server/config.co", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("v1"))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	c := newTestUnitClient(t, server)

	unsub1 := c.Subscribe("db.yaml", "DEFAULT_GROUP", func(string) {})
	unsub2 := c.Subscribe("db.yaml", "DEFAULT_GROUP", func(string) {})

	unsub1()
	sub, ok := c.lookupSubscription("db.yaml", "DEFAULT_GROUP")
	assert.True(t, ok)
	sub.mu.Lock()
	assert.Equal(t, 1, len(sub.listeners))
	sub.mu.Unlock()

	unsub2()
	_, ok = c.lookupSubscription("db.yaml", "DEFAULT_GROUP")
	assert.False(t, ok)
}

func TestUnsubscribeAll_DropsSubscriptionImmediately(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/diamond-server/config.co", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("v1"))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	c := newTestUnitClient(t, server)
	c.Subscribe("db.yaml", "DEFAULT_GROUP", func(string) {})
	c.Subscribe("db.yaml", "DEFAULT_GROUP", func(string) {})

	c.UnsubscribeAll("db.yaml", "DEFAULT_GROUP")
	_, ok := c.lookupSubscription("db.yaml", "DEFAULT_GROUP")
	assert.False(t, ok)
}

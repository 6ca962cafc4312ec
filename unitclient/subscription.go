package unitclient

import "sync"

// Listener receives the content of a config whenever it changes.
type Listener func(content string)

// listenerHandle identifies one registered listener so it can be
// removed individually without requiring the callback to be comparable.
// It is not zero-sized: pointers to distinct zero-size values may compare
// equal, which would collapse every handle onto one map key.
type listenerHandle struct{ _ byte }

// subscription is one (dataId, group) row being long-polled. md5/content
// are nil until the first successful sync.
type subscription struct {
	dataId string
	group  string

	mu      sync.Mutex
	md5     *string
	content *string

	listeners map[*listenerHandle]Listener
}

func newSubscription(dataId, group string) *subscription {
	return &subscription{
		dataId:    dataId,
		group:     group,
		listeners: make(map[*listenerHandle]Listener),
	}
}

func (s *subscription) snapshot() (md5 *string, content *string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.md5, s.content
}

// Subscribe registers listener for (dataId, group). If this is the
// first subscriber for that pair, an initial sync is performed and the
// long-polling loop is started once it completes. If the subscription
// already has content, the new listener alone receives one deferred
// emission of the cached value; pre-existing listeners are untouched.
//
// The returned function removes this listener; when the last listener
// for a key is removed, the subscription is dropped and the long-poll
// loop stops probing for it.
func (c *UnitClient) Subscribe(dataId, group string, listener Listener) func() {
	key := c.subscriptionKey(dataId, group)
	handle := &listenerHandle{}

	c.subMu.Lock()
	sub, exists := c.subscriptions[key]
	if !exists {
		sub = newSubscription(dataId, group)
		c.subscriptions[key] = sub
	}
	sub.mu.Lock()
	sub.listeners[handle] = listener
	sub.mu.Unlock()
	c.subMu.Unlock()

	if !exists {
		go func() {
			c.syncConfigs([]*subscription{sub})
			c.startPollingLoop()
		}()
	} else if md5, content := sub.snapshot(); md5 != nil {
		cached := *content
		go listener(cached)
	}

	return func() {
		c.unsubscribe(key, handle)
	}
}

// UnsubscribeAll removes every listener for (dataId, group), dropping
// the subscription immediately.
func (c *UnitClient) UnsubscribeAll(dataId, group string) {
	key := c.subscriptionKey(dataId, group)
	c.subMu.Lock()
	delete(c.subscriptions, key)
	c.subMu.Unlock()
}

func (c *UnitClient) unsubscribe(key string, handle *listenerHandle) {
	c.subMu.Lock()
	defer c.subMu.Unlock()

	sub, ok := c.subscriptions[key]
	if !ok {
		return
	}
	sub.mu.Lock()
	delete(sub.listeners, handle)
	empty := len(sub.listeners) == 0
	sub.mu.Unlock()

	if empty {
		delete(c.subscriptions, key)
	}
}

func (c *UnitClient) subscriptionKey(dataId, group string) string {
	return dataId + "@" + group + "@" + c.unit
}

func (c *UnitClient) activeSubscriptions() []*subscription {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	subs := make([]*subscription, 0, len(c.subscriptions))
	for _, s := range c.subscriptions {
		subs = append(subs, s)
	}
	return subs
}

func (c *UnitClient) lookupSubscription(dataId, group string) (*subscription, bool) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	sub, ok := c.subscriptions[c.subscriptionKey(dataId, group)]
	return sub, ok
}

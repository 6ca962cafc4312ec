package unitclient

import (
	"crypto/md5"
	"encoding/hex"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/diamondconfig/diamond-go/model"
)

// syncConcurrency bounds how many dataIds are resynced in parallel after
// a probe reports changes, per the spec's "bounded concurrency <= 5".
const syncConcurrency = 5

// longPollTimeout is the transport timeout for the probe request,
// intentionally greater than the server's own 30s hold so the client
// never times out before the server replies.
const longPollTimeout = 40 * time.Second

// longPollErrorBackoff is how long the loop sleeps after a failed
// probe before retrying.
const longPollErrorBackoff = 2 * time.Second

// startPollingLoop starts the long-polling goroutine if one isn't
// already running. The atomic guard makes this safe to call repeatedly.
func (c *UnitClient) startPollingLoop() {
	if !c.pollingGuard.CompareAndSwap(false, true) {
		return
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer c.pollingGuard.Store(false)
		c.longPollLoop()
	}()
}

// longPollLoop is the single cooperative task per UnitClient that drives
// the batched change-detection protocol. It exits when the client is
// closed or when there are no subscriptions left to probe.
func (c *UnitClient) longPollLoop() {
	for {
		if c.closed.Load() {
			return
		}

		subs := c.activeSubscriptions()
		if len(subs) == 0 {
			return
		}

		changed, err := c.probe(subs)
		if err != nil {
			c.report(&model.DiamondLongPullingError{Err: err})
			time.Sleep(longPollErrorBackoff)
			continue
		}
		if len(changed) == 0 {
			continue
		}

		var toSync []*subscription
		for _, pair := range changed {
			if sub, ok := c.lookupSubscription(pair[0], pair[1]); ok {
				toSync = append(toSync, sub)
			}
		}
		c.syncConfigs(toSync)
	}
}

// buildProbeBody concatenates, in iteration order, one entry per
// subscription: dataId WORD_SEP group WORD_SEP [md5 WORD_SEP tenant
// LINE_SEP | md5 LINE_SEP].
func (c *UnitClient) buildProbeBody(subs []*subscription) string {
	var sb strings.Builder
	for _, sub := range subs {
		md5Val, _ := sub.snapshot()
		md5Str := ""
		if md5Val != nil {
			md5Str = *md5Val
		}

		sb.WriteString(sub.dataId)
		sb.WriteString(model.WordSep)
		sb.WriteString(sub.group)
		sb.WriteString(model.WordSep)
		if c.tenant != "" {
			sb.WriteString(md5Str)
			sb.WriteString(model.WordSep)
			sb.WriteString(c.tenant)
			sb.WriteString(model.LineSep)
		} else {
			sb.WriteString(md5Str)
			sb.WriteString(model.LineSep)
		}
	}
	return sb.String()
}

// probe issues one long-poll request and returns the (dataId, group)
// pairs whose server-side md5 has changed.
func (c *UnitClient) probe(subs []*subscription) ([][2]string, error) {
	body := c.buildProbeBody(subs)
	fields := []kv{{"Probe-Modify-Request", body}}
	headers := map[string]string{"longPullingTimeout": "30000"}

	respBody, found, err := c.send(c.ctx, http.MethodPost, "/config.co", fields, c.tenant, "", false, headers, longPollTimeout)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}

	decoded, err := url.QueryUnescape(string(respBody))
	if err != nil {
		return nil, err
	}
	return parseProbeResponse(decoded), nil
}

func parseProbeResponse(decoded string) [][2]string {
	var pairs [][2]string
	for _, segment := range strings.Split(decoded, model.LineSep) {
		if segment == "" {
			continue
		}
		fields := strings.Split(segment, model.WordSep)
		if len(fields) >= 2 {
			pairs = append(pairs, [2]string{fields[0], fields[1]})
		}
	}
	return pairs
}

// syncConfigs fetches each subscription's latest content with bounded
// concurrency, debouncing on content md5: unchanged content is a silent
// no-op, changed content is recorded and emitted to every listener on a
// later scheduling tick. A subscription that disappeared mid-flight
// (unsubscribed) is discarded silently; a fetch failure retains the
// previous md5/content so the next probe retries it.
func (c *UnitClient) syncConfigs(subs []*subscription) {
	sem := semaphore.NewWeighted(syncConcurrency)
	ctx := c.ctx
	var wg sync.WaitGroup

	for _, sub := range subs {
		sub := sub
		if err := sem.Acquire(ctx, 1); err != nil {
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer sem.Release(1)
			c.syncOne(sub)
		}()
	}
	wg.Wait()
}

func (c *UnitClient) syncOne(sub *subscription) {
	key := model.ConfigKey{DataId: sub.dataId, Group: sub.group, Tenant: c.tenant}
	content, err := c.GetConfig(c.ctx, key)

	if _, stillSubscribed := c.lookupSubscription(sub.dataId, sub.group); !stillSubscribed {
		return
	}

	if err != nil {
		c.report(&model.DiamondSyncConfigError{DataId: sub.dataId, Group: sub.group, Err: err})
		return
	}

	// A config that no longer exists on the server is treated as empty
	// content rather than "nothing happened", so deletions still reach
	// listeners.
	value := ""
	if content != nil {
		value = *content
	}
	sum := md5.Sum([]byte(value))
	newMD5 := hex.EncodeToString(sum[:])

	sub.mu.Lock()
	changed := sub.md5 == nil || *sub.md5 != newMD5
	var listeners []Listener
	if changed {
		sub.md5 = &newMD5
		contentCopy := value
		sub.content = &contentCopy
		for _, l := range sub.listeners {
			listeners = append(listeners, l)
		}
	}
	sub.mu.Unlock()

	if !changed {
		return
	}
	for _, l := range listeners {
		l := l
		go l(value)
	}
}

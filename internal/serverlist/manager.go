// Package serverlist implements the per-unit server discovery and
// round-robin selection used by every outbound request: it keeps a warm
// list of hostnames per unit, refreshes them in the background, and
// falls back to the local snapshot when discovery fails.
package serverlist

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/atomic"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/diamondconfig/diamond-go/internal/snapshot"
	"github.com/diamondconfig/diamond-go/model"
)

// maxConcurrentRefreshes bounds how many units are refreshed in
// parallel on a single background tick.
const maxConcurrentRefreshes = 8

// serverPool is the round-robin state for one unit's host list.
type serverPool struct {
	hosts []string
	index int
}

func newServerPool(hosts []string) *serverPool {
	index := 0
	if len(hosts) > 0 {
		index = rand.Intn(len(hosts))
	}
	return &serverPool{hosts: hosts, index: index}
}

func (p *serverPool) next() string {
	if len(p.hosts) == 0 {
		return ""
	}
	host := p.hosts[p.index]
	p.index = (p.index + 1) % len(p.hosts)
	return host
}

// Params configures a Manager.
type Params struct {
	Endpoint        string
	HTTPClient      model.HTTPClient
	Snapshot        *snapshot.Store
	Reporter        model.ErrorReporter
	Logger          *zap.Logger
	RefreshInterval time.Duration
}

// Manager discovers and round-robins server hostnames per unit.
type Manager struct {
	endpoint        string
	httpClient      model.HTTPClient
	snapshot        *snapshot.Store
	reporter        model.ErrorReporter
	logger          *zap.Logger
	refreshInterval time.Duration

	mu    sync.Mutex
	cache map[string]*serverPool

	currentUnitOnce sync.Once
	currentUnit     string
	currentUnitErr  error

	refreshSem *semaphore.Weighted
	closed     *atomic.Bool
	stopCh     chan struct{}
	wg         sync.WaitGroup
}

// New creates a Manager and starts its background refresh loop.
func New(p Params) *Manager {
	if p.Logger == nil {
		p.Logger = zap.NewNop()
	}
	m := &Manager{
		endpoint:        p.Endpoint,
		httpClient:      p.HTTPClient,
		snapshot:        p.Snapshot,
		reporter:        p.Reporter,
		logger:          p.Logger,
		refreshInterval: p.RefreshInterval,
		cache:           make(map[string]*serverPool),
		refreshSem:      semaphore.NewWeighted(maxConcurrentRefreshes),
		closed:          atomic.NewBool(false),
		stopCh:          make(chan struct{}),
	}
	m.wg.Add(1)
	go m.refreshLoop()
	return m
}

// GetOne returns the next host for unit in round-robin order. On first
// access it synchronously fetches the list; the round-robin index
// advances even on retries, since callers implement their own retry.
func (m *Manager) GetOne(unit string) (string, error) {
	m.mu.Lock()
	pool, known := m.cache[unit]
	m.mu.Unlock()

	if !known {
		hosts, err := m.fetchHostsForUnit(unit)
		m.mu.Lock()
		if len(hosts) > 0 {
			m.cache[unit] = newServerPool(hosts)
		} else {
			m.cache[unit] = nil
		}
		pool = m.cache[unit]
		m.mu.Unlock()
		if err != nil && pool == nil {
			return "", err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	pool = m.cache[unit]
	if pool == nil || len(pool.hosts) == 0 {
		return "", &model.DiamondServerUnavailableError{Unit: unit}
	}
	return pool.next(), nil
}

// FetchUnitLists returns the names of every unit known to discovery.
func (m *Manager) FetchUnitLists() ([]string, error) {
	url := fmt.Sprintf("http://%s/diamond-server/unit-list?nofix=1", m.endpoint)
	return m.fetchLines(url)
}

// GetCurrentUnit returns the name of the unit this process belongs to,
// resolved at most once per process lifetime.
func (m *Manager) GetCurrentUnit() (string, error) {
	m.currentUnitOnce.Do(func() {
		url := fmt.Sprintf("http://%s/env", m.endpoint)
		body, _, err := m.getRaw(url)

		m.mu.Lock()
		defer m.mu.Unlock()
		if err != nil {
			m.currentUnitErr = err
			return
		}
		m.currentUnit = strings.TrimSpace(string(body))
	})

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentUnit, m.currentUnitErr
}

// Close stops the background refresh loop and blocks until it has
// actually exited.
func (m *Manager) Close() {
	if m.closed.CompareAndSwap(false, true) {
		close(m.stopCh)
	}
	m.wg.Wait()
}

func (m *Manager) refreshLoop() {
	defer m.wg.Done()
	for {
		select {
		case <-m.stopCh:
			return
		case <-time.After(m.refreshInterval):
		}
		m.refreshAll()
	}
}

// refreshAll re-fetches every unit that has ever been asked for,
// including units whose cache entry is nil, in parallel.
func (m *Manager) refreshAll() {
	m.mu.Lock()
	units := make([]string, 0, len(m.cache))
	for unit := range m.cache {
		units = append(units, unit)
	}
	m.mu.Unlock()

	var wg sync.WaitGroup
	var mu sync.Mutex
	var result *multierror.Error
	ctx := context.Background()
	for _, unit := range units {
		unit := unit
		if err := m.refreshSem.Acquire(ctx, 1); err != nil {
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer m.refreshSem.Release(1)

			hosts, err := m.fetchHostsForUnit(unit)
			m.mu.Lock()
			if len(hosts) > 0 {
				m.cache[unit] = newServerPool(hosts)
			} else {
				m.cache[unit] = nil
			}
			m.mu.Unlock()

			if err != nil {
				mu.Lock()
				result = multierror.Append(result, &model.DiamondUpdateServersError{Unit: unit, Err: err})
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if result != nil {
		m.logger.Warn("server list refresh failed for some units", zap.Error(result))
		if m.reporter != nil {
			m.reporter.Report(result)
		}
	}
}

// fetchHostsForUnit fetches the host list over HTTP, persisting it to
// the snapshot on success. On failure it falls back to the snapshot,
// reporting the original error either way it resolves.
func (m *Manager) fetchHostsForUnit(unit string) ([]string, error) {
	hosts, err := m.fetchFromHTTP(unit)
	if err == nil {
		if data, marshalErr := json.Marshal(hosts); marshalErr == nil {
			m.snapshot.Save(model.ServerListSnapshotKey(unit), string(data))
		}
		return hosts, nil
	}

	if m.reporter != nil {
		m.reporter.Report(err)
	}
	m.logger.Warn("server list discovery failed, trying snapshot", zap.String("unit", unit), zap.Error(err))

	cached, ok := m.loadSnapshotHosts(unit)
	if !ok {
		return nil, err
	}
	return cached, nil
}

func (m *Manager) fetchFromHTTP(unit string) ([]string, error) {
	url := m.discoveryURL(unit)
	hosts, err := m.fetchLines(url)
	if err != nil {
		return nil, err
	}
	if len(hosts) == 0 {
		return nil, &model.DiamondServerHostEmptyError{Unit: unit}
	}
	return hosts, nil
}

func (m *Manager) loadSnapshotHosts(unit string) ([]string, bool) {
	raw := m.snapshot.Get(model.ServerListSnapshotKey(unit))
	if raw == nil {
		return nil, false
	}
	var hosts []string
	if err := json.Unmarshal([]byte(*raw), &hosts); err != nil {
		m.snapshot.Delete(model.ServerListSnapshotKey(unit))
		if m.reporter != nil {
			m.reporter.Report(&model.ServerListSnapShotJSONParseError{Unit: unit, Err: err})
		}
		return nil, false
	}
	return hosts, true
}

// discoveryURL picks the "current unit" endpoint when unit is empty or
// already known to be the process's own unit, otherwise the named-unit
// endpoint.
func (m *Manager) discoveryURL(unit string) string {
	base := fmt.Sprintf("http://%s/diamond-server/", m.endpoint)

	m.mu.Lock()
	currentUnit := m.currentUnit
	m.mu.Unlock()

	if unit == "" || unit == currentUnit {
		return base + "diamond"
	}
	return base + "diamond-unit-" + unit + "?nofix=1"
}

func (m *Manager) fetchLines(url string) ([]string, error) {
	body, status, err := m.getRaw(url)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, &model.DiamondServerResponseError{URL: url, StatusCode: status, Data: string(body)}
	}
	return parseLines(string(body)), nil
}

func (m *Manager) getRaw(url string) ([]byte, int, error) {
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, &model.DiamondServerResponseError{URL: url, Err: err}
	}
	resp, err := m.httpClient.Do(req)
	if err != nil {
		return nil, 0, &model.DiamondServerResponseError{URL: url, Err: err}
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, &model.DiamondServerResponseError{URL: url, Err: err}
	}
	return body, resp.StatusCode, nil
}

func parseLines(body string) []string {
	var lines []string
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

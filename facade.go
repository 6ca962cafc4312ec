package diamond

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/atomic"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/diamondconfig/diamond-go/internal/serverlist"
	"github.com/diamondconfig/diamond-go/internal/snapshot"
	"github.com/diamondconfig/diamond-go/model"
	"github.com/diamondconfig/diamond-go/unitclient"
)

// maxConcurrentFanOut bounds how many units a "to all units" write
// touches in parallel.
const maxConcurrentFanOut = 8

// eventBufferSize is how many pending error events the facade will
// queue before a slow reader starts causing reports to be dropped.
const eventBufferSize = 256

// Facade is the multi-unit entry point applications construct. It owns
// one snapshot store and one server list manager shared by every
// lazily-created per-unit client.
type Facade struct {
	cfg        Config
	logger     *zap.Logger
	httpClient model.HTTPClient
	snapshot   *snapshot.Store
	serverList *serverlist.Manager

	mu      sync.Mutex
	clients map[string]*unitclient.UnitClient

	events chan error
	closed *atomic.Bool
}

// New constructs a Facade from cfg. It does not block on network
// access; discovery and host selection happen lazily on first use.
func New(cfg Config) (*Facade, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = buildDefaultHTTPClient(cfg.SSL, cfg.InsecureSkipVerify)
	}

	f := &Facade{
		cfg:        cfg,
		logger:     cfg.Logger,
		httpClient: cfg.HTTPClient,
		clients:    make(map[string]*unitclient.UnitClient),
		events:     make(chan error, eventBufferSize),
		closed:     atomic.NewBool(false),
	}

	f.snapshot = snapshot.New(cfg.CacheDir, f, f.logger)
	f.serverList = serverlist.New(serverlist.Params{
		Endpoint:        cfg.Endpoint,
		HTTPClient:      cfg.HTTPClient,
		Snapshot:        f.snapshot,
		Reporter:        f,
		Logger:          f.logger,
		RefreshInterval: cfg.RefreshInterval,
	})

	return f, nil
}

// Events returns the facade's error-event stream. Every reported error
// from any component (snapshot, server list, unit clients) is re-emitted
// here, asynchronously, so a slow or panicking reader cannot destabilize
// the component that reported it.
func (f *Facade) Events() <-chan error { return f.events }

// Report implements model.ErrorReporter, fanning every sub-component's
// error into the facade's event stream.
func (f *Facade) Report(err error) {
	if f.closed.Load() {
		return
	}
	go func() {
		select {
		case f.events <- err:
		case <-time.After(time.Second):
		}
	}()
}

// ReadOption customizes a per-call dispatch, currently only which unit
// to target.
type ReadOption interface {
	apply(*readOptions)
}

type readOptions struct {
	unit string
}

type unitOption struct{ unit string }

func (o unitOption) apply(r *readOptions) { r.unit = o.unit }

// WithUnit routes this call to the named unit instead of the current
// one.
func WithUnit(unit string) ReadOption {
	return unitOption{unit: unit}
}

func resolveReadOptions(opts []ReadOption) readOptions {
	var ro readOptions
	for _, o := range opts {
		o.apply(&ro)
	}
	return ro
}

// getClient returns (lazily creating) the UnitClient for unit, or the
// current unit when unit is empty.
func (f *Facade) getClient(unit string) (*unitclient.UnitClient, error) {
	if unit == "" {
		resolved, err := f.serverList.GetCurrentUnit()
		if err != nil {
			return nil, err
		}
		unit = resolved
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.clients[unit]; ok {
		return c, nil
	}

	c := unitclient.New(unitclient.Params{
		Unit:   unit,
		Tenant: f.cfg.Namespace,
		Credentials: unitclient.Credentials{
			AccessKey: f.cfg.AccessKey,
			SecretKey: f.cfg.SecretKey,
			AppName:   f.cfg.AppName,
			AppKey:    f.cfg.AppKey,
		},
		SSL:                f.cfg.SSL,
		InsecureSkipVerify: f.cfg.InsecureSkipVerify,
		RequestTimeout:     f.cfg.RequestTimeout,
		HTTPClient:         f.httpClient,
		ServerList:         f.serverList,
		Snapshot:           f.snapshot,
		Reporter:           f,
		Logger:             f.logger,
	})
	f.clients[unit] = c
	return c, nil
}

// GetConfig reads one config, falling back to the local snapshot on
// failure.
func (f *Facade) GetConfig(ctx context.Context, key model.ConfigKey, opts ...ReadOption) (*string, error) {
	ro := resolveReadOptions(opts)
	c, err := f.getClient(ro.unit)
	if err != nil {
		return nil, err
	}
	return c.GetConfig(ctx, key)
}

// PublishSingle writes content for key.
func (f *Facade) PublishSingle(ctx context.Context, key model.ConfigKey, content string, opts ...ReadOption) error {
	ro := resolveReadOptions(opts)
	c, err := f.getClient(ro.unit)
	if err != nil {
		return err
	}
	return c.PublishSingle(ctx, key, content)
}

// Remove deletes a config.
func (f *Facade) Remove(ctx context.Context, key model.ConfigKey, opts ...ReadOption) error {
	ro := resolveReadOptions(opts)
	c, err := f.getClient(ro.unit)
	if err != nil {
		return err
	}
	return c.Remove(ctx, key)
}

// PublishAggr writes one datum of an aggregate config.
func (f *Facade) PublishAggr(ctx context.Context, key model.ConfigKey, datumId, content string, opts ...ReadOption) error {
	ro := resolveReadOptions(opts)
	c, err := f.getClient(ro.unit)
	if err != nil {
		return err
	}
	return c.PublishAggr(ctx, key, datumId, content)
}

// RemoveAggr removes one datum of an aggregate config.
func (f *Facade) RemoveAggr(ctx context.Context, key model.ConfigKey, datumId string, opts ...ReadOption) error {
	ro := resolveReadOptions(opts)
	c, err := f.getClient(ro.unit)
	if err != nil {
		return err
	}
	return c.RemoveAggr(ctx, key, datumId)
}

// BatchGetConfig fetches several dataIds in one round trip.
func (f *Facade) BatchGetConfig(ctx context.Context, dataIds []string, group, tenant string, opts ...ReadOption) ([]unitclient.BatchConfigEntry, error) {
	ro := resolveReadOptions(opts)
	c, err := f.getClient(ro.unit)
	if err != nil {
		return nil, err
	}
	return c.BatchGetConfig(ctx, dataIds, group, tenant)
}

// BatchQuery performs a batch admin query.
func (f *Facade) BatchQuery(ctx context.Context, dataIds []string, group, tenant string, opts ...ReadOption) ([]byte, error) {
	ro := resolveReadOptions(opts)
	c, err := f.getClient(ro.unit)
	if err != nil {
		return nil, err
	}
	return c.BatchQuery(ctx, dataIds, group, tenant)
}

// GetAllConfigInfo fetches every config under tenant.
func (f *Facade) GetAllConfigInfo(ctx context.Context, tenant string, opts ...ReadOption) ([]unitclient.ConfigInfo, error) {
	ro := resolveReadOptions(opts)
	c, err := f.getClient(ro.unit)
	if err != nil {
		return nil, err
	}
	return c.GetAllConfigInfo(ctx, tenant)
}

// Subscribe registers listener for (dataId, group) on the resolved
// unit's long-polling loop. The returned function unsubscribes.
func (f *Facade) Subscribe(dataId, group string, listener unitclient.Listener, opts ...ReadOption) (func(), error) {
	ro := resolveReadOptions(opts)
	c, err := f.getClient(ro.unit)
	if err != nil {
		return nil, err
	}
	return c.Subscribe(dataId, group, listener), nil
}

// UnsubscribeAll removes every listener for (dataId, group) on the
// resolved unit.
func (f *Facade) UnsubscribeAll(dataId, group string, opts ...ReadOption) error {
	ro := resolveReadOptions(opts)
	c, err := f.getClient(ro.unit)
	if err != nil {
		return err
	}
	c.UnsubscribeAll(dataId, group)
	return nil
}

// PublishToAllUnit publishes content to every unit known to discovery.
// It fails unless every unit's write succeeds, but units that did
// succeed keep their write regardless of the overall result.
func (f *Facade) PublishToAllUnit(ctx context.Context, key model.ConfigKey, content string) error {
	return f.fanOutWrite(ctx, func(c *unitclient.UnitClient) error {
		return c.PublishSingle(ctx, key, content)
	})
}

// RemoveToAllUnit removes a config from every unit known to discovery.
func (f *Facade) RemoveToAllUnit(ctx context.Context, key model.ConfigKey) error {
	return f.fanOutWrite(ctx, func(c *unitclient.UnitClient) error {
		return c.Remove(ctx, key)
	})
}

func (f *Facade) fanOutWrite(ctx context.Context, op func(*unitclient.UnitClient) error) error {
	units, err := f.serverList.FetchUnitLists()
	if err != nil {
		return err
	}

	sem := semaphore.NewWeighted(maxConcurrentFanOut)
	var wg sync.WaitGroup
	var mu sync.Mutex
	var result *multierror.Error

	for _, unit := range units {
		unit := unit
		if err := sem.Acquire(ctx, 1); err != nil {
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer sem.Release(1)

			c, err := f.getClient(unit)
			if err != nil {
				mu.Lock()
				result = multierror.Append(result, fmt.Errorf("unit %s: %w", unit, err))
				mu.Unlock()
				return
			}
			if err := op(c); err != nil {
				mu.Lock()
				result = multierror.Append(result, fmt.Errorf("unit %s: %w", unit, err))
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if result != nil {
		return result.ErrorOrNil()
	}
	return nil
}

// Close stops the server list manager and every known UnitClient, then
// clears the registry.
func (f *Facade) Close() {
	if !f.closed.CompareAndSwap(false, true) {
		return
	}

	f.serverList.Close()

	f.mu.Lock()
	clients := make([]*unitclient.UnitClient, 0, len(f.clients))
	for _, c := range f.clients {
		clients = append(clients, c)
	}
	f.clients = make(map[string]*unitclient.UnitClient)
	f.mu.Unlock()

	for _, c := range clients {
		c.Close()
	}
}

// Package unitclient implements the per-unit signed request layer,
// read/write operations and subscription/long-polling engine described
// by the spec. A UnitClient is scoped to exactly one unit; the facade
// owns one per unit name it has been asked to talk to.
package unitclient

import (
	"context"
	"sync"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/diamondconfig/diamond-go/internal/serverlist"
	"github.com/diamondconfig/diamond-go/internal/snapshot"
	"github.com/diamondconfig/diamond-go/model"
)

// Credentials carries the signing and aggregate-write identifiers
// supplied by the caller.
type Credentials struct {
	AccessKey string
	SecretKey string
	AppName   string
	AppKey    string
}

// Params configures a UnitClient. Tenant may be empty, Reporter may be
// nil, and a nil Logger defaults to zap.NewNop().
type Params struct {
	Unit               string
	Tenant             string
	Credentials        Credentials
	SSL                bool
	InsecureSkipVerify bool
	RequestTimeout     time.Duration
	HTTPClient         model.HTTPClient
	ServerList         *serverlist.Manager
	Snapshot           *snapshot.Store
	Reporter           model.ErrorReporter
	Logger             *zap.Logger
}

// UnitClient is the signed-request, read/write and subscription engine
// for one unit.
type UnitClient struct {
	unit        string
	tenant      string
	credentials Credentials

	ssl                bool
	insecureSkipVerify bool
	requestTimeout     time.Duration

	httpClient model.HTTPClient
	serverList *serverlist.Manager
	snapshot   *snapshot.Store
	reporter   model.ErrorReporter
	logger     *zap.Logger

	hostMu      sync.Mutex
	currentHost string

	subMu         sync.Mutex
	subscriptions map[string]*subscription

	pollingGuard *atomic.Bool
	closed       *atomic.Bool
	wg           sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc
}

// New constructs a UnitClient. It does not block on discovery; the
// first host is resolved lazily by the first outbound request.
func New(p Params) *UnitClient {
	if p.Logger == nil {
		p.Logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &UnitClient{
		unit:               p.Unit,
		tenant:             p.Tenant,
		credentials:        p.Credentials,
		ssl:                p.SSL,
		insecureSkipVerify: p.InsecureSkipVerify,
		requestTimeout:     p.RequestTimeout,
		httpClient:         p.HTTPClient,
		serverList:         p.ServerList,
		snapshot:           p.Snapshot,
		reporter:           p.Reporter,
		logger:             p.Logger,
		subscriptions:      make(map[string]*subscription),
		pollingGuard:       atomic.NewBool(false),
		closed:             atomic.NewBool(false),
		ctx:                ctx,
		cancel:             cancel,
	}
}

// Unit returns the unit name this client is scoped to.
func (c *UnitClient) Unit() string { return c.unit }

// Close marks the client closed, aborts any in-flight long-polling
// request by cancelling its context, and blocks until the polling loop
// has actually exited.
func (c *UnitClient) Close() {
	c.closed.Store(true)
	c.cancel()
	c.wg.Wait()
}

func (c *UnitClient) report(err error) {
	c.logger.Warn("diamond error", zap.Error(err))
	if c.reporter != nil {
		c.reporter.Report(err)
	}
}

func (c *UnitClient) ensureHost() (string, error) {
	c.hostMu.Lock()
	host := c.currentHost
	c.hostMu.Unlock()
	if host != "" {
		return host, nil
	}

	host, err := c.serverList.GetOne(c.unit)
	if err != nil {
		return "", err
	}
	c.hostMu.Lock()
	c.currentHost = host
	c.hostMu.Unlock()
	return host, nil
}

// reselectHost picks a fresh currentHost after a transport or protocol
// failure, per the signed request layer's failover contract.
func (c *UnitClient) reselectHost() {
	host, err := c.serverList.GetOne(c.unit)
	if err != nil {
		c.report(err)
		return
	}
	c.hostMu.Lock()
	c.currentHost = host
	c.hostMu.Unlock()
}

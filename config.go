package diamond

import (
	"crypto/tls"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/diamondconfig/diamond-go/model"
)

const (
	defaultRequestTimeout  = 6 * time.Second
	defaultRefreshInterval = 30 * time.Second
	defaultCacheDirName    = ".node-diamond-client-cache"
)

// Config is the explicit set of options recognized at construction
// time. Unlike the source client's dynamic options object, unknown
// fields simply don't compile; required fields are checked in
// NewConfig/New.
type Config struct {
	Endpoint  string
	Namespace string
	AccessKey string
	SecretKey string

	AppName string
	AppKey  string

	// SSL enables TLS on the wire. Defaults to true.
	SSL bool

	// InsecureSkipVerify disables peer certificate verification. The
	// protocol the server speaks requires this; it is an explicit, loud
	// field rather than a silent default precisely because it is a
	// server-compatibility requirement and not a security
	// recommendation.
	InsecureSkipVerify bool

	RequestTimeout  time.Duration
	RefreshInterval time.Duration
	CacheDir        string

	// HTTPClient is the injected transport. When nil, New builds one
	// from SSL/InsecureSkipVerify.
	HTTPClient model.HTTPClient

	Logger *zap.Logger
}

// ConfigOption mutates a Config built by NewConfig.
type ConfigOption interface {
	apply(*Config)
}

type optionFunc func(*Config)

func (f optionFunc) apply(c *Config) { f(c) }

// WithAppName sets the identifier attached to aggregate writes.
func WithAppName(appName string) ConfigOption {
	return optionFunc(func(c *Config) { c.AppName = appName })
}

// WithAppKey sets the optional application key identifier.
func WithAppKey(appKey string) ConfigOption {
	return optionFunc(func(c *Config) { c.AppKey = appKey })
}

// WithSSL overrides whether TLS is used on the wire. Defaults to true.
func WithSSL(ssl bool) ConfigOption {
	return optionFunc(func(c *Config) { c.SSL = ssl })
}

// WithInsecureSkipVerify disables peer certificate verification. See
// Config.InsecureSkipVerify for why this exists.
func WithInsecureSkipVerify(insecure bool) ConfigOption {
	return optionFunc(func(c *Config) { c.InsecureSkipVerify = insecure })
}

// WithRequestTimeout overrides the per-request timeout. Defaults to
// 6 seconds; does not apply to the long-polling probe, which always
// uses its own fixed 40 second timeout.
func WithRequestTimeout(d time.Duration) ConfigOption {
	return optionFunc(func(c *Config) { c.RequestTimeout = d })
}

// WithRefreshInterval overrides the server-list background refresh
// cadence. Defaults to 30 seconds.
func WithRefreshInterval(d time.Duration) ConfigOption {
	return optionFunc(func(c *Config) { c.RefreshInterval = d })
}

// WithCacheDir overrides the snapshot root directory. Defaults to
// <home>/.node-diamond-client-cache.
func WithCacheDir(dir string) ConfigOption {
	return optionFunc(func(c *Config) { c.CacheDir = dir })
}

// WithHTTPClient injects a transport, overriding the TLS configuration
// New would otherwise build from SSL/InsecureSkipVerify. Intended for
// tests stubbing the wire per the spec's testability requirements.
func WithHTTPClient(client model.HTTPClient) ConfigOption {
	return optionFunc(func(c *Config) { c.HTTPClient = client })
}

// WithLogger overrides the structured logger used across every
// component. Defaults to zap.NewNop().
func WithLogger(logger *zap.Logger) ConfigOption {
	return optionFunc(func(c *Config) { c.Logger = logger })
}

func defaultConfig() Config {
	return Config{
		SSL:             true,
		RequestTimeout:  defaultRequestTimeout,
		RefreshInterval: defaultRefreshInterval,
		CacheDir:        defaultCacheDir(),
		Logger:          zap.NewNop(),
	}
}

func defaultCacheDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, defaultCacheDirName)
}

// NewConfig builds a Config from the required fields plus any
// ConfigOptions, applying the defaults documented on the With* options.
func NewConfig(endpoint, namespace, accessKey, secretKey string, opts ...ConfigOption) (Config, error) {
	cfg := defaultConfig()
	cfg.Endpoint = endpoint
	cfg.Namespace = namespace
	cfg.AccessKey = accessKey
	cfg.SecretKey = secretKey
	for _, o := range opts {
		o.apply(&cfg)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Endpoint == "" {
		return fmt.Errorf("diamond: endpoint is required")
	}
	if c.Namespace == "" {
		return fmt.Errorf("diamond: namespace is required")
	}
	if c.AccessKey == "" {
		return fmt.Errorf("diamond: accessKey is required")
	}
	if c.SecretKey == "" {
		return fmt.Errorf("diamond: secretKey is required")
	}
	return nil
}

func buildDefaultHTTPClient(ssl, insecureSkipVerify bool) *http.Client {
	transport := &http.Transport{}
	if ssl {
		transport.TLSClientConfig = &tls.Config{
			MinVersion:         tls.VersionTLS12,
			InsecureSkipVerify: insecureSkipVerify,
		}
	}
	return &http.Client{Transport: transport}
}

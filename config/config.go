// Package config gathers the settings shared by the h2rpc server and client.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"h2rpc/codec"
	"h2rpc/loadbalance"
	"h2rpc/logging"
	"h2rpc/protocol"
	"h2rpc/registry"
)

// EnvPrefix prefixes every environment variable read by FromEnv.
const EnvPrefix = "H2RPC_"

type Config struct {
	Addr          string        // listen address
	AdvertiseAddr string        // address registered for discovery; defaults to Addr
	Codec         string        // "json" or "proto"
	Balancer      string        // "roundrobin", "weightedrandom", "consistenthash"
	EtcdEndpoints []string      // empty means the in-memory registry
	DialTimeout   time.Duration // etcd dial timeout
	RegistryTTL   int64         // lease TTL in seconds
	MaxBodySize   int64
	Timeout       time.Duration // per-call budget, 0 disables
	RateLimit     float64       // requests per second, 0 disables
	RateBurst     int
	Retries       uint
	LogLevel      string
	Development   bool
}

func Default() Config {
	return Config{
		Addr:        "127.0.0.1:9090",
		Codec:       "json",
		Balancer:    "roundrobin",
		DialTimeout: 5 * time.Second,
		RegistryTTL: 10,
		MaxBodySize: int64(protocol.MaxBodyLen) + int64(protocol.HeaderSize),
		Timeout:     5 * time.Second,
		RateBurst:   100,
		LogLevel:    "info",
	}
}

// FromEnv returns Default overlaid with H2RPC_* variables from the process
// environment.
func FromEnv() (Config, error) {
	return FromLookup(os.LookupEnv)
}

// FromLookup is FromEnv with an explicit variable source.
func FromLookup(lookup func(string) (string, bool)) (Config, error) {
	c := Default()
	var err error
	get := func(name string) (string, bool) {
		v, ok := lookup(EnvPrefix + name)
		return strings.TrimSpace(v), ok && strings.TrimSpace(v) != ""
	}

	if v, ok := get("ADDR"); ok {
		c.Addr = v
	}
	if v, ok := get("ADVERTISE_ADDR"); ok {
		c.AdvertiseAddr = v
	}
	if v, ok := get("CODEC"); ok {
		c.Codec = v
	}
	if v, ok := get("BALANCER"); ok {
		c.Balancer = v
	}
	if v, ok := get("ETCD_ENDPOINTS"); ok {
		c.EtcdEndpoints = splitList(v)
	}
	if v, ok := get("LOG_LEVEL"); ok {
		c.LogLevel = v
	}
	if v, ok := get("DEV"); ok {
		if c.Development, err = strconv.ParseBool(v); err != nil {
			return c, errors.Wrap(err, EnvPrefix+"DEV")
		}
	}
	if v, ok := get("DIAL_TIMEOUT"); ok {
		if c.DialTimeout, err = time.ParseDuration(v); err != nil {
			return c, errors.Wrap(err, EnvPrefix+"DIAL_TIMEOUT")
		}
	}
	if v, ok := get("TIMEOUT"); ok {
		if c.Timeout, err = time.ParseDuration(v); err != nil {
			return c, errors.Wrap(err, EnvPrefix+"TIMEOUT")
		}
	}
	if v, ok := get("REGISTRY_TTL"); ok {
		if c.RegistryTTL, err = strconv.ParseInt(v, 10, 64); err != nil {
			return c, errors.Wrap(err, EnvPrefix+"REGISTRY_TTL")
		}
	}
	if v, ok := get("MAX_BODY_SIZE"); ok {
		if c.MaxBodySize, err = strconv.ParseInt(v, 10, 64); err != nil {
			return c, errors.Wrap(err, EnvPrefix+"MAX_BODY_SIZE")
		}
	}
	if v, ok := get("RATE_LIMIT"); ok {
		if c.RateLimit, err = strconv.ParseFloat(v, 64); err != nil {
			return c, errors.Wrap(err, EnvPrefix+"RATE_LIMIT")
		}
	}
	if v, ok := get("RATE_BURST"); ok {
		if c.RateBurst, err = strconv.Atoi(v); err != nil {
			return c, errors.Wrap(err, EnvPrefix+"RATE_BURST")
		}
	}
	if v, ok := get("RETRIES"); ok {
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return c, errors.Wrap(err, EnvPrefix+"RETRIES")
		}
		c.Retries = uint(n)
	}
	return c, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	if c.Addr == "" {
		return errors.New("config: addr is required")
	}
	if _, err := c.CodecType(); err != nil {
		return err
	}
	if _, err := loadbalance.New(c.Balancer); err != nil {
		return err
	}
	if c.RegistryTTL <= 0 {
		return errors.Errorf("config: registry ttl must be positive, got %d", c.RegistryTTL)
	}
	if c.MaxBodySize <= int64(protocol.HeaderSize) {
		return errors.Errorf("config: max body size %d cannot hold a frame header", c.MaxBodySize)
	}
	if c.Timeout < 0 || c.DialTimeout < 0 {
		return errors.New("config: timeouts must not be negative")
	}
	if c.RateLimit < 0 || (c.RateLimit > 0 && c.RateBurst <= 0) {
		return errors.Errorf("config: invalid rate limit %v/s burst %d", c.RateLimit, c.RateBurst)
	}
	return nil
}

func (c Config) CodecType() (codec.CodecType, error) {
	return codec.Parse(c.Codec)
}

// Advertise is the address servers register under.
func (c Config) Advertise() string {
	if c.AdvertiseAddr != "" {
		return c.AdvertiseAddr
	}
	return c.Addr
}

// NewLogger builds the configured logger and installs it as the process logger.
func (c Config) NewLogger() (*zap.Logger, error) {
	l, err := logging.New(c.LogLevel, c.Development)
	if err != nil {
		return nil, errors.Wrap(err, "config: log level")
	}
	logging.SetLogger(l)
	return l, nil
}

// NewRegistry connects to etcd when endpoints are configured and falls back to
// an in-process registry otherwise. The returned close func is never nil.
func (c Config) NewRegistry(logger *zap.Logger) (registry.Registry, func() error, error) {
	if len(c.EtcdEndpoints) == 0 {
		return registry.NewMemoryRegistry(), func() error { return nil }, nil
	}
	reg, err := registry.NewEtcdRegistry(c.EtcdEndpoints, c.DialTimeout, logger)
	if err != nil {
		return nil, nil, err
	}
	return reg, reg.Close, nil
}

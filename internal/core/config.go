// Package core holds the service configuration shared by the command and the HTTP server.
package core

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"audiussource/pkg/audius"
)

const (
	// DefaultServerPort is the HTTP listen port.
	DefaultServerPort = 2333
	// DefaultLoadLimitPerMinute bounds /v1 requests per client per minute.
	DefaultLoadLimitPerMinute = 120
	// DefaultStreamConnectTimeout bounds connecting to a media URL.
	DefaultStreamConnectTimeout = 15 * time.Second
)

type Config struct {
	Audius AudiusConfig
	Server ServerConfig
	Log    LogConfig
}

type AudiusConfig struct {
	DiscoveryURL          string
	AppName               string
	RequestTimeout        time.Duration
	MaxConcurrentRequests int
	StreamConnectTimeout  time.Duration
}

type ServerConfig struct {
	Host               string
	Port               int
	ReadTimeout        time.Duration
	WriteTimeout       time.Duration
	LoadLimitPerMinute int // 0 disables limiting
}

type LogConfig struct {
	Level  string
	Format string
}

func DefaultConfig() *Config {
	return &Config{
		Audius: AudiusConfig{
			DiscoveryURL:          audius.DefaultDiscoveryURL,
			AppName:               audius.DefaultAppName,
			RequestTimeout:        audius.DefaultRequestTimeout,
			MaxConcurrentRequests: audius.DefaultMaxConcurrentRequests,
			StreamConnectTimeout:  DefaultStreamConnectTimeout,
		},
		Server: ServerConfig{
			Host:               "0.0.0.0",
			Port:               DefaultServerPort,
			ReadTimeout:        10 * time.Second,
			WriteTimeout:       0, // streams are long-lived
			LoadLimitPerMinute: DefaultLoadLimitPerMinute,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Options converts the Audius section into source options.
func (c *AudiusConfig) Options() audius.Options {
	return audius.Options{
		DiscoveryURL:          c.DiscoveryURL,
		AppName:               c.AppName,
		RequestTimeout:        c.RequestTimeout,
		MaxConcurrentRequests: c.MaxConcurrentRequests,
		StreamClient:          audius.NewHTTPStreamer(c.StreamConnectTimeout),
	}
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error

	if u, err := url.Parse(c.Audius.DiscoveryURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("audius discovery URL %q is not an absolute URL", c.Audius.DiscoveryURL))
	}
	if strings.TrimSpace(c.Audius.AppName) == "" {
		errs = append(errs, errors.New("audius app name is required"))
	}
	if c.Audius.RequestTimeout <= 0 {
		errs = append(errs, fmt.Errorf("audius request timeout must be positive, got %s", c.Audius.RequestTimeout))
	}
	if c.Audius.MaxConcurrentRequests <= 0 {
		errs = append(errs, fmt.Errorf("audius max concurrent requests must be positive, got %d", c.Audius.MaxConcurrentRequests))
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server port %d is out of range", c.Server.Port))
	}
	if c.Server.LoadLimitPerMinute < 0 {
		errs = append(errs, fmt.Errorf("load limit per minute must not be negative, got %d", c.Server.LoadLimitPerMinute))
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("log format %q is not one of json, text", c.Log.Format))
	}

	return errors.Join(errs...)
}

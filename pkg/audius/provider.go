package audius

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"
)

// Options configures a Client and a Source.
type Options struct {
	DiscoveryURL          string          // Endpoint listing the available discovery providers.
	AppName               string          // Sent as app_name on every provider call.
	RequestTimeout        time.Duration   // Bound on every metadata request.
	MaxConcurrentRequests int             // Bound on in-flight upstream requests.
	StreamClient          *HTTPStreamer   // Opens media streams, defaults to NewHTTPStreamer.
	Observer              RequestObserver // Optional per-request observer.
}

func (o Options) withDefaults() Options {
	if o.DiscoveryURL == "" {
		o.DiscoveryURL = DefaultDiscoveryURL
	}
	if o.AppName == "" {
		o.AppName = DefaultAppName
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = DefaultRequestTimeout
	}
	if o.MaxConcurrentRequests <= 0 {
		o.MaxConcurrentRequests = DefaultMaxConcurrentRequests
	}
	return o
}

// Provider is the base URL of the selected discovery provider. The empty Provider means none is available.
type Provider string

// NoProvider is the degraded state in which every resolution fails fast.
const NoProvider Provider = ""

// Valid reports whether a provider was selected.
func (p Provider) Valid() bool {
	return p != NoProvider
}

// SelectProvider fetches the discovery list and commits to its first entry.
// Every failure leaves the caller without a provider; the selection is not retried.
func SelectProvider(ctx context.Context, client *Client, discoveryURL string) (Provider, bool) {
	logger := client.logger.With(zap.String("discovery_url", discoveryURL))
	logger.Info("Fetching Audius discovery providers")

	data, err := client.get(ctx, "discovery", discoveryURL, discoveryURL)
	if err != nil {
		logger.Error("Failed to fetch Audius discovery providers", zap.Error(err))
		return NoProvider, false
	}

	var candidates []json.RawMessage
	if err := json.Unmarshal(data, &candidates); err != nil {
		logger.Error("Audius discovery providers response is not a list", zap.Error(err))
		return NoProvider, false
	}
	if len(candidates) == 0 {
		logger.Error("Audius discovery providers list is empty")
		return NoProvider, false
	}

	var first string
	if err := json.Unmarshal(candidates[0], &first); err != nil || first == "" {
		logger.Error("First Audius discovery provider is not a usable URL",
			zap.String("entry", string(candidates[0])))
		return NoProvider, false
	}

	logger.Info("Selected Audius discovery provider",
		zap.String("provider", first),
		zap.Int("candidates", len(candidates)))
	return Provider(first), true
}

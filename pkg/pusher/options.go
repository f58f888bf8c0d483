package pusher

import (
	"fmt"
	"time"

	"github.com/radu-cendars/sockudo-client/pkg/pusher/delta"
)

const (
	clientName    = "sockudo-client-go"
	clientVersion = "1.0.0"
	protocolVersion = 7
)

// clusterHosts expands the short "cluster" convenience field into a
// full ws host, mirroring the original implementation's cluster table
// (original_source/src/options.rs) so callers need not hardcode hosts
// for the common managed clusters.
var clusterHosts = map[string]string{
	"mt1": "ws-mt1.pusher.com",
	"us2": "ws-us2.pusher.com",
	"us3": "ws-us3.pusher.com",
	"eu":  "ws-eu.pusher.com",
	"ap1": "ws-ap1.pusher.com",
	"ap2": "ws-ap2.pusher.com",
	"ap3": "ws-ap3.pusher.com",
	"ap4": "ws-ap4.pusher.com",
}

// Options configures a Client. Construct directly, via OptionsFromEnv,
// or by setting Cluster instead of WSHost for a managed cluster.
type Options struct {
	AppKey string

	// Either set Cluster (expanded via the built-in table) or WSHost
	// directly; WSHost wins if both are set.
	Cluster string
	WSHost  string
	WSPort  int
	TLS     bool

	AuthEndpoint     string
	AuthHeaders      map[string]string
	UserAuthEndpoint string

	ActivityTimeout    time.Duration
	PongTimeout        time.Duration
	UnavailableTimeout time.Duration

	// DeltaCompression enables negotiating delta compression on
	// connect. DeltaAlgorithms lists the decoders to offer, in priority
	// order; nil means only delta.DefaultAlgorithm (fossil) is offered.
	DeltaCompression bool
	DeltaAlgorithms  []delta.Algorithm

	ReconnectInitialBackoff time.Duration
	ReconnectMaxBackoff     time.Duration
}

// DefaultOptions returns an Options with spec.md §5's documented
// defaults (120s activity timeout, 30s pong timeout, 10s unavailable
// timeout) and no app key — the caller must still set AppKey and a
// host/cluster.
func DefaultOptions() Options {
	return Options{
		WSPort:                  80,
		ActivityTimeout:         120 * time.Second,
		PongTimeout:             30 * time.Second,
		UnavailableTimeout:      10 * time.Second,
		ReconnectInitialBackoff: 1 * time.Second,
		ReconnectMaxBackoff:     30 * time.Second,
	}
}

func (o Options) wsHost() (string, error) {
	if o.WSHost != "" {
		return o.WSHost, nil
	}
	if o.Cluster != "" {
		if host, ok := clusterHosts[o.Cluster]; ok {
			return host, nil
		}
		return fmt.Sprintf("ws-%s.pusher.com", o.Cluster), nil
	}
	return "", fmt.Errorf("pusher: options: either WSHost or Cluster must be set")
}

// DeriveWSURL builds the connect URL per spec.md §6: scheme from TLS,
// port omitted when it matches the scheme's default.
func (o Options) DeriveWSURL() (string, error) {
	if o.AppKey == "" {
		return "", fmt.Errorf("pusher: options: AppKey must be set")
	}
	host, err := o.wsHost()
	if err != nil {
		return "", err
	}

	scheme := "ws"
	defaultPort := 80
	if o.TLS {
		scheme = "wss"
		defaultPort = 443
	}
	port := o.WSPort
	if port == 0 {
		port = defaultPort
	}

	hostPart := host
	if port != defaultPort {
		hostPart = fmt.Sprintf("%s:%d", host, port)
	}

	return fmt.Sprintf("%s://%s/app/%s?protocol=%d&client=%s&version=%s",
		scheme, hostPart, o.AppKey, protocolVersion, clientName, clientVersion), nil
}

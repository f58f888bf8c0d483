package pusher

import (
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// envOptions mirrors Options' environment-driven fields, with the same
// envDefault-tag convention the teacher's own config.go uses.
type envOptions struct {
	AppKey  string `env:"PUSHER_APP_KEY"`
	Cluster string `env:"PUSHER_CLUSTER"`
	WSHost  string `env:"PUSHER_WS_HOST"`
	WSPort  int    `env:"PUSHER_WS_PORT" envDefault:"80"`
	TLS     bool   `env:"PUSHER_TLS" envDefault:"true"`

	AuthEndpoint     string `env:"PUSHER_AUTH_ENDPOINT"`
	UserAuthEndpoint string `env:"PUSHER_USER_AUTH_ENDPOINT"`

	ActivityTimeout    time.Duration `env:"PUSHER_ACTIVITY_TIMEOUT" envDefault:"120s"`
	PongTimeout        time.Duration `env:"PUSHER_PONG_TIMEOUT" envDefault:"30s"`
	UnavailableTimeout time.Duration `env:"PUSHER_UNAVAILABLE_TIMEOUT" envDefault:"10s"`

	DeltaCompression bool `env:"PUSHER_DELTA_COMPRESSION" envDefault:"false"`

	ReconnectInitialBackoff time.Duration `env:"PUSHER_RECONNECT_INITIAL_BACKOFF" envDefault:"1s"`
	ReconnectMaxBackoff     time.Duration `env:"PUSHER_RECONNECT_MAX_BACKOFF" envDefault:"30s"`
}

// OptionsFromEnv loads Options from the process environment (optionally
// seeded from a .env file, if present in the working directory),
// grounded on the teacher's caarlos0/env + godotenv config loader.
// AuthHeaders and DeltaAlgorithms are not environment-expressible; set
// them on the returned Options directly.
func OptionsFromEnv() (Options, error) {
	_ = godotenv.Load() // optional: a missing .env file is not an error

	var raw envOptions
	if err := env.Parse(&raw); err != nil {
		return Options{}, newError(ErrConfiguration, "parse environment", err)
	}

	return Options{
		AppKey:                  raw.AppKey,
		Cluster:                 raw.Cluster,
		WSHost:                  raw.WSHost,
		WSPort:                  raw.WSPort,
		TLS:                     raw.TLS,
		AuthEndpoint:            raw.AuthEndpoint,
		UserAuthEndpoint:        raw.UserAuthEndpoint,
		ActivityTimeout:         raw.ActivityTimeout,
		PongTimeout:             raw.PongTimeout,
		UnavailableTimeout:      raw.UnavailableTimeout,
		DeltaCompression:        raw.DeltaCompression,
		ReconnectInitialBackoff: raw.ReconnectInitialBackoff,
		ReconnectMaxBackoff:     raw.ReconnectMaxBackoff,
	}, nil
}

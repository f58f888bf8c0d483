// Command sockudo-demo connects to a Pusher-compatible server, subscribes
// to a channel named on the command line, and logs every event received,
// grounded on ws/cmd/single/main.go's flag+env+signal wiring.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	_ "go.uber.org/automaxprocs"

	"github.com/radu-cendars/sockudo-client/internal/metrics"
	"github.com/radu-cendars/sockudo-client/pkg/pusher"
	"github.com/radu-cendars/sockudo-client/pkg/pusher/authhttp"
	"github.com/radu-cendars/sockudo-client/pkg/pusher/channels"
	"github.com/radu-cendars/sockudo-client/pkg/pusher/events"
)

func main() {
	var (
		channel      = flag.String("channel", "my-channel", "channel to subscribe to")
		authEndpoint = flag.String("auth-endpoint", "", "auth endpoint for private/presence channels, if any")
		metricsAddr  = flag.String("metrics-addr", ":9100", "listen address for the /metrics endpoint")
		debug        = flag.Bool("debug", false, "enable debug logging")
	)
	flag.Parse()

	level := zerolog.InfoLevel
	if *debug {
		level = zerolog.DebugLevel
	}
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
		Level(level).With().Timestamp().Logger()

	opts, err := pusher.OptionsFromEnv()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	opts.AuthEndpoint = *authEndpoint

	var authorizer channels.Authorizer
	if opts.AuthEndpoint != "" {
		authorizer = authhttp.New(opts.AuthEndpoint, nil)
	}

	registry := prometheus.NewRegistry()
	reg := metrics.New(registry)

	client := pusher.New(opts, authorizer, log)
	client.SetMetrics(reg)

	client.BindGlobal(func(ev events.Event) {
		log.Debug().Str("event", ev.Name).Str("channel", ev.Channel).Msg("event received")
	})
	client.Bind("connected", func(_ events.Event) {
		log.Info().Str("socket_id", client.SocketID()).Msg("connected")
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	httpServer := &http.Server{Addr: *metricsAddr, Handler: mux}
	go func() {
		log.Info().Str("addr", *metricsAddr).Msg("metrics server starting")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("metrics server error")
		}
	}()

	if err := client.Connect(ctx); err != nil {
		log.Fatal().Err(err).Msg("connect failed")
	}

	if err := client.WaitForConnection(ctx, 15*time.Second); err != nil {
		log.Fatal().Err(err).Msg("never reached connected state")
	}

	if _, err := client.Subscribe(ctx, *channel); err != nil {
		log.Fatal().Err(err).Str("channel", *channel).Msg("subscribe failed")
	}
	log.Info().Str("channel", *channel).Msg("subscribed")

	<-ctx.Done()
	log.Info().Msg("shutdown signal received")

	client.Disconnect()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(shutdownCtx)
}

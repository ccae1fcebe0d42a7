package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/sweeney/callpop/internal/aggregate"
	"github.com/sweeney/callpop/internal/api"
	"github.com/sweeney/callpop/internal/bridge"
	"github.com/sweeney/callpop/internal/cache"
	"github.com/sweeney/callpop/internal/config"
	"github.com/sweeney/callpop/internal/correlator"
	"github.com/sweeney/callpop/internal/crm"
	"github.com/sweeney/callpop/internal/history"
	"github.com/sweeney/callpop/internal/hub"
	"github.com/sweeney/callpop/internal/pbx"
	"github.com/sweeney/callpop/internal/publisher"
)

// app is the wired process: one PBX stream feeding the bridge, the
// operator hub, the cache sweeper and the HTTP server.
type app struct {
	cfg     *config.Config
	stream  *pbx.Stream
	hub     *hub.Hub
	bridge  *bridge.Bridge
	sweeper *cache.Sweeper
	server  *http.Server
	history history.Store
	mirror  *publisher.Mirror
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	store, err := history.Open(ctx, cfg.History)
	if err != nil {
		return nil, fmt.Errorf("opening history: %w", err)
	}

	a := &app{cfg: cfg, history: store}

	deps := bridge.Deps{History: store}
	if cfg.MQTT.Enabled {
		pub, err := publisher.NewMQTTPublisher(publisher.MQTTOptions{
			Broker:   cfg.MQTT.Broker,
			ClientID: cfg.MQTT.ClientID,
			QoS:      1,
		})
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("connecting to MQTT: %w", err)
		}
		a.mirror = publisher.NewMirror(pub, cfg.MQTT.TopicPrefix)
		deps.Mirror = a.mirror
		log.Info().Str("broker", cfg.MQTT.Broker).Str("prefix", cfg.MQTT.TopicPrefix).Msg("mirroring operator messages to MQTT")
	}

	tokens := pbx.NewTokenSource(pbx.TokenOptions{
		URL:          cfg.PBX.TokenURL,
		ClientID:     cfg.PBX.ClientID,
		ClientSecret: cfg.PBX.ClientSecret,
		SafetyBuffer: cfg.PBX.TokenSafetyBuffer,
	})

	customers := cache.NewNamespace[[]byte]("customer-data", cfg.Cache.CustomerTTL)
	ringing := cache.NewNamespace[struct{}]("ringing-dedup", cfg.Cache.RingingDedupTTL)
	saved := cache.NewNamespace[string]("saved-calls", cfg.Cache.SavedCallTTL)

	corr := correlator.New(correlator.Rules{
		Trunk:          cfg.PBX.TrunkExtension,
		SuppressWindow: cfg.Correlation.SuppressWindow,
	}, correlator.WithMaxAge(cfg.Correlation.SessionMaxAge))

	var service aggregate.Service
	if cfg.Parts.BaseURL != "" {
		service = crm.NewPartsClient(cfg.Parts.BaseURL, cfg.Parts.APIKey, cfg.Parts.Timeout)
	}
	pipeline := aggregate.New(
		crm.NewClient(cfg.CRM.BaseURL, cfg.CRM.APIKey, cfg.CRM.Timeout),
		service,
		customers,
		aggregate.Options{
			TestMode:        cfg.Pipeline.TestMode,
			TestPhoneNumber: cfg.Pipeline.TestPhoneNumber,
			Concurrency:     cfg.Pipeline.Concurrency,
		},
	)

	a.hub = hub.New(hub.Options{
		ProbeInterval: cfg.Server.ProbeInterval,
		WriteTimeout:  cfg.Server.WriteTimeout,
	})

	deps.Detail = pbx.NewDetailClient(cfg.PBX.BaseURL, tokens, cfg.PBX.RequestTimeout)
	deps.Correlator = corr
	deps.Hub = a.hub
	deps.Pipeline = pipeline
	deps.Ringing = ringing
	deps.Saved = saved
	a.bridge = bridge.New(deps, bridge.Options{LegacyNotifications: cfg.Pipeline.LegacyNotifications})

	a.stream = pbx.NewStream(pbx.StreamOptions{
		URL:               cfg.PBX.StreamURL,
		Credentials:       tokens,
		KeepaliveInterval: cfg.PBX.KeepaliveInterval,
		ReconnectBase:     cfg.PBX.ReconnectBase,
		ReconnectMax:      cfg.PBX.ReconnectMax,
	}, a.bridge.Handle)

	a.sweeper = cache.NewSweeper(cfg.Cache.SweepInterval, customers, ringing, saved, corr)

	a.server = &http.Server{
		Addr: cfg.Server.Listen,
		Handler: api.NewRouter(api.Deps{
			Operators: a.hub,
			History:   store,
			Stats: func() api.Stats {
				return api.Stats{
					Operators:       a.hub.Stats(),
					Caches:          []cache.Stats{customers.Stats(), ringing.Stats(), saved.Stats()},
					CallSessions:    corr.ActiveCalls(),
					Cursor:          a.stream.Cursor().Value(),
					StreamConnected: a.stream.Connected(),
				}
			},
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return a, nil
}

// run blocks until ctx is cancelled or a component fails.
func (a *app) run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info().Str("listen", a.server.Addr).Msg("serving operators")
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return a.server.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		a.hub.Run(ctx)
		return nil
	})
	g.Go(func() error {
		a.sweeper.Run(ctx)
		return nil
	})
	g.Go(func() error {
		return a.stream.Run(ctx)
	})

	err := g.Wait()
	a.bridge.Wait()
	return err
}

func (a *app) close() {
	if a.mirror != nil {
		a.mirror.Close()
	}
	if err := a.history.Close(); err != nil {
		log.Warn().Err(err).Msg("closing history")
	}
}

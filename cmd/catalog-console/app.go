package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"github.com/illmade-knight/go-catalogadmin/pkg/apiclient"
	"github.com/illmade-knight/go-catalogadmin/pkg/audit"
	"github.com/illmade-knight/go-catalogadmin/pkg/auth"
	"github.com/illmade-knight/go-catalogadmin/pkg/cache"
	"github.com/illmade-knight/go-catalogadmin/pkg/catalog"
	"github.com/illmade-knight/go-catalogadmin/pkg/config"
	"github.com/illmade-knight/go-catalogadmin/pkg/console"
	"github.com/illmade-knight/go-catalogadmin/pkg/guard"
	"github.com/illmade-knight/go-catalogadmin/pkg/invalidation"
	"github.com/illmade-knight/go-catalogadmin/pkg/media"
	"github.com/illmade-knight/go-catalogadmin/pkg/microservice"
	"github.com/illmade-knight/go-catalogadmin/pkg/querycache"
	"github.com/illmade-knight/go-catalogadmin/pkg/session"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"
)

// app owns every long-lived component. Stoppers run in reverse order of
// creation on shutdown.
type app struct {
	server   *microservice.BaseServer
	listener *invalidation.Listener
	batch    *audit.BatchRecorder
	stoppers []func(ctx context.Context) error
	logger   zerolog.Logger
}

func (a *app) onShutdown(name string, fn func(ctx context.Context) error) {
	a.stoppers = append(a.stoppers, func(ctx context.Context) error {
		if err := fn(ctx); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		return nil
	})
}

func closer(c io.Closer) func(context.Context) error {
	return func(context.Context) error { return c.Close() }
}

func newApp(ctx context.Context, cfg config.Config, logger zerolog.Logger) (_ *app, err error) {
	a := &app{logger: logger}
	defer func() {
		if err != nil {
			a.shutdown(context.Background())
		}
	}()

	var clientOpts []option.ClientOption
	if cfg.CredentialsFile != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	results, err := newResultStore(ctx, cfg, clientOpts, a, logger)
	if err != nil {
		return nil, err
	}
	display, err := newDisplayStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.onShutdown("display store", closer(display))

	holder, err := session.NewHolder(session.Config{CookieName: cfg.TokenCookie}, display, logger)
	if err != nil {
		return nil, err
	}
	if err := holder.Restore(ctx); err != nil {
		logger.Warn().Err(err).Msg("Failed to restore session")
	}

	client, err := apiclient.New(apiclient.Config{
		BaseURL: strings.TrimRight(cfg.APIURL, "/") + "/api",
		Timeout: cfg.RequestTimeout,
	}, holder, logger)
	if err != nil {
		return nil, err
	}

	engine, err := querycache.NewEngine(querycache.Config{KeepUnusedFor: cfg.KeepUnusedFor}, results, nil, logger)
	if err != nil {
		return nil, err
	}
	a.onShutdown("query engine", closer(engine))

	if err := a.wireInvalidation(ctx, cfg, clientOpts, engine, logger); err != nil {
		return nil, err
	}

	recorder, err := a.newRecorder(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	source, err := a.newMediaSource(ctx, cfg, clientOpts, logger)
	if err != nil {
		return nil, err
	}

	catalogService, err := catalog.NewService(engine, client, recorder, logger)
	if err != nil {
		return nil, err
	}
	authService, err := auth.NewService(client, holder, logger)
	if err != nil {
		return nil, err
	}
	handler, err := console.NewHandler(catalogService, authService, holder, engine, source, logger)
	if err != nil {
		return nil, err
	}

	g, err := guard.New(guard.Config{ProtectedPrefix: cfg.ProtectedPrefix}, holder, logger)
	if err != nil {
		return nil, err
	}
	a.server = microservice.NewBaseServer(logger, cfg.HTTPAddr, g.Middleware)
	handler.Register(a.server.Mux())
	return a, nil
}

func newResultStore(ctx context.Context, cfg config.Config, opts []option.ClientOption, a *app, logger zerolog.Logger) (cache.Store[string, json.RawMessage], error) {
	switch cfg.ResultStore {
	case "", "memory":
		return cache.NewInMemoryLRUCache[string, json.RawMessage](cfg.ResultCacheMax)
	case "redis":
		store, err := cache.NewRedisCache[string, json.RawMessage](ctx, &cache.RedisConfig{
			Addr:      cfg.RedisAddr,
			Password:  cfg.RedisPassword,
			DB:        cfg.RedisDB,
			CacheTTL:  cfg.RedisTTL,
			KeyPrefix: cfg.RedisKeyPrefix + "query:",
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create redis result store: %w", err)
		}
		a.onShutdown("redis result store", closer(store))
		return store, nil
	case "firestore":
		client, err := firestore.NewClient(ctx, cfg.ProjectID, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create firestore client: %w", err)
		}
		a.onShutdown("firestore client", closer(client))
		return cache.NewFirestoreCache[string, json.RawMessage](&cache.FirestoreConfig{
			ProjectID:      cfg.ProjectID,
			CollectionName: cfg.FirestoreCollection,
		}, client, logger)
	default:
		return nil, fmt.Errorf("unknown result store %q", cfg.ResultStore)
	}
}

func newDisplayStore(ctx context.Context, cfg config.Config, logger zerolog.Logger) (cache.Store[string, session.Profile], error) {
	switch cfg.SessionStore {
	case "", "memory":
		return cache.NewInMemoryCache[string, session.Profile](), nil
	case "redis":
		store, err := cache.NewRedisCache[string, session.Profile](ctx, &cache.RedisConfig{
			Addr:      cfg.RedisAddr,
			Password:  cfg.RedisPassword,
			DB:        cfg.RedisDB,
			CacheTTL:  session.DefaultLifetime,
			KeyPrefix: cfg.RedisKeyPrefix + "session:",
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create redis session store: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown session store %q", cfg.SessionStore)
	}
}

func (a *app) wireInvalidation(ctx context.Context, cfg config.Config, opts []option.ClientOption, engine *querycache.Engine, logger zerolog.Logger) error {
	if cfg.InvalidationTopic == "" && cfg.InvalidationSubscription == "" {
		return nil
	}
	client, err := pubsub.NewClient(ctx, cfg.ProjectID, opts...)
	if err != nil {
		return fmt.Errorf("failed to create pubsub client: %w", err)
	}
	a.onShutdown("pubsub client", closer(client))

	origin := invalidation.NewOrigin()
	if cfg.InvalidationTopic != "" {
		pub, err := invalidation.NewPublisher(ctx, client, cfg.InvalidationTopic, origin, logger)
		if err != nil {
			return err
		}
		a.onShutdown("invalidation publisher", pub.Stop)
		engine.SetNotifier(pub)
	}
	if cfg.InvalidationSubscription != "" {
		l, err := invalidation.NewListener(ctx, invalidation.NewListenerDefaults(cfg.InvalidationSubscription), client, origin, engine, logger)
		if err != nil {
			return err
		}
		a.listener = l
		a.onShutdown("invalidation listener", l.Stop)
	}
	logger.Info().Str("origin", origin).Msg("Invalidation bus configured")
	return nil
}

func (a *app) newRecorder(ctx context.Context, cfg config.Config, logger zerolog.Logger) (audit.Recorder, error) {
	recorders := audit.Multi{audit.NewLogRecorder(logger)}
	if cfg.AuditDataset == "" || cfg.AuditTable == "" {
		return recorders, nil
	}
	client, err := audit.NewProductionBigQueryClient(ctx, cfg.ProjectID, cfg.CredentialsFile, logger)
	if err != nil {
		return nil, err
	}
	a.onShutdown("bigquery client", closer(client))

	inserter, err := audit.NewBigQueryInserter(ctx, client, audit.BigQueryConfig{
		DatasetID: cfg.AuditDataset,
		TableID:   cfg.AuditTable,
	}, logger)
	if err != nil {
		return nil, err
	}
	batch, err := audit.NewBatchRecorder(audit.NewBatchRecorderDefaults(), inserter, logger)
	if err != nil {
		return nil, err
	}
	a.batch = batch
	a.onShutdown("audit batch recorder", batch.Stop)
	return append(recorders, batch), nil
}

func (a *app) newMediaSource(ctx context.Context, cfg config.Config, opts []option.ClientOption, logger zerolog.Logger) (media.Source, error) {
	if cfg.MediaBucket != "" {
		client, err := storage.NewClient(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create storage client: %w", err)
		}
		a.onShutdown("storage client", closer(client))
		return media.NewGCSSource(media.NewGCSClientAdapter(client), media.GCSSourceConfig{BucketName: cfg.MediaBucket}, logger)
	}
	if cfg.MediaRoot != "" {
		return media.NewLocalSource(cfg.MediaRoot)
	}
	return nil, nil
}

func (a *app) start(ctx context.Context) error {
	if a.batch != nil {
		a.batch.Start(ctx)
	}
	if a.listener != nil {
		a.listener.Start(ctx)
	}
	return a.server.Start()
}

// shutdown stops the HTTP server first so no request observes a stopped
// component, then everything else in reverse order of creation.
func (a *app) shutdown(ctx context.Context) {
	if a.server != nil {
		if err := a.server.Shutdown(ctx); err != nil {
			a.logger.Error().Err(err).Msg("HTTP server shutdown failed")
		}
	}
	for i := len(a.stoppers) - 1; i >= 0; i-- {
		if err := a.stoppers[i](ctx); err != nil {
			a.logger.Error().Err(err).Msg("Component shutdown failed")
		}
	}
	a.stoppers = nil
}

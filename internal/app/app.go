// Package app builds the crawl pipeline from configuration and owns the
// long-lived clients it opens.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/quote-crawler/internal/api"
	"github.com/JakeFAU/quote-crawler/internal/clock/system"
	"github.com/JakeFAU/quote-crawler/internal/config"
	"github.com/JakeFAU/quote-crawler/internal/crawler"
	"github.com/JakeFAU/quote-crawler/internal/dispatcher"
	collyfetcher "github.com/JakeFAU/quote-crawler/internal/fetcher/colly"
	headlessfetcher "github.com/JakeFAU/quote-crawler/internal/fetcher/headless"
	"github.com/JakeFAU/quote-crawler/internal/hash/sha256"
	"github.com/JakeFAU/quote-crawler/internal/id/uuid"
	"github.com/JakeFAU/quote-crawler/internal/metrics"
	"github.com/JakeFAU/quote-crawler/internal/parser"
	"github.com/JakeFAU/quote-crawler/internal/planner"
	"github.com/JakeFAU/quote-crawler/internal/ratelimit"
	"github.com/JakeFAU/quote-crawler/internal/sink"
	gcssink "github.com/JakeFAU/quote-crawler/internal/sink/gcs"
	jsonlsink "github.com/JakeFAU/quote-crawler/internal/sink/jsonl"
	memorysink "github.com/JakeFAU/quote-crawler/internal/sink/memory"
	pgsink "github.com/JakeFAU/quote-crawler/internal/sink/postgres"
	pubsubsink "github.com/JakeFAU/quote-crawler/internal/sink/pubsub"
	"github.com/JakeFAU/quote-crawler/internal/site"
	"github.com/JakeFAU/quote-crawler/internal/worker"
)

// App contains the application's dependencies.
type App struct {
	cfg       config.Config
	req       config.Request
	logger    *zap.Logger
	planner   *planner.Planner
	dispatch  *dispatcher.Dispatcher
	sinks     *sink.Multi
	memory    *memorysink.Sink
	headless  *headlessfetcher.Fetcher
	apiServer *api.Server
}

// Build validates the crawl input and wires fetchers, parser, sinks, and the
// dispatcher. Malformed input fails here, before any client is opened.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	req, err := cfg.Request()
	if err != nil {
		return nil, fmt.Errorf("crawl input: %w", err)
	}
	target, err := site.New(cfg.Site.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("site init failed: %w", err)
	}
	metrics.Init()

	a := &App{
		cfg:     cfg,
		req:     req,
		logger:  logger,
		planner: planner.New(target),
	}
	logger.Info("building application dependencies",
		zap.String("site", target.BaseURL()),
		zap.Strings("sinks", cfg.Sink.Kinds),
		zap.Bool("headless", cfg.Headless.Enabled),
		zap.Int("concurrency", cfg.Crawler.Concurrency),
	)

	limiter := ratelimit.New(ratelimit.Config{
		RPS:   cfg.Crawler.RateLimitRPS,
		Burst: cfg.Crawler.RateLimitBurst,
	})
	static, err := collyfetcher.New(collyfetcher.Config{
		UserAgents:    cfg.Crawler.UserAgents,
		RespectRobots: cfg.Crawler.RespectRobots,
		Timeout:       cfg.HTTPTimeout(),
		ProxyURLs:     req.ProxyURLs,
	}, limiter, logger.Named("colly"))
	if err != nil {
		return nil, fmt.Errorf("colly fetcher init failed: %w", err)
	}

	markup, markupMode, err := a.setupMarkupFetcher(static, limiter)
	if err != nil {
		return nil, err
	}

	named, err := setupSinks(ctx, cfg.Sink, logger)
	if err != nil {
		a.closeHeadless()
		return nil, err
	}
	for _, n := range named {
		if mem, ok := n.Sink.(*memorysink.Sink); ok {
			a.memory = mem
		}
	}
	a.sinks = sink.NewMulti(logger.Named("sink"), named...)
	logger.Info("sinks ready", zap.Strings("sinks", a.sinks.Names()))

	var apiFetcher crawler.Fetcher
	if req.PreferAPI {
		apiFetcher = static
	}
	clock := system.New()
	w := worker.New(
		target,
		apiFetcher,
		markup,
		parser.New(),
		a.sinks,
		clock,
		worker.Config{PreferAPI: req.PreferAPI, MarkupMode: markupMode},
		logger.Named("worker"),
	)
	a.dispatch = dispatcher.New(
		w,
		uuid.New(),
		clock,
		dispatcher.Config{Concurrency: cfg.Crawler.Concurrency},
		logger.Named("dispatcher"),
	)
	if cfg.Metrics.ListenAddr != "" {
		a.apiServer = api.NewServer(a.dispatch, api.Options{APIKey: cfg.Metrics.APIKey}, logger.Named("api"))
	}
	return a, nil
}

func (a *App) setupMarkupFetcher(
	static *collyfetcher.Fetcher,
	limiter *ratelimit.Limiter,
) (crawler.Fetcher, crawler.FetchMode, error) {
	if !a.cfg.Headless.Enabled {
		a.logger.Info("using static html fetcher for markup")
		return static, crawler.ModeHTML, nil
	}
	hc := a.cfg.Headless
	var blocked []string
	if len(hc.BlockedHosts) > 0 {
		blocked = hc.BlockedHosts
	}
	var proxyServer string
	if len(a.req.ProxyURLs) > 0 {
		proxyServer = a.req.ProxyURLs[0]
	}
	fetcher, err := headlessfetcher.NewChromedp(headlessfetcher.Config{
		MaxParallel:       hc.MaxParallel,
		UserAgents:        a.cfg.Crawler.UserAgents,
		NavigationTimeout: time.Duration(hc.NavTimeoutSec) * time.Second,
		ContentWait:       time.Duration(hc.ContentWaitSec) * time.Second,
		ContentSelector:   hc.ContentSelector,
		ProxyServer:       proxyServer,
		BlockResources:    hc.BlockResources,
		BlockedHosts:      blocked,
	}, limiter, a.logger.Named("headless"))
	if err != nil {
		return nil, "", fmt.Errorf("headless fetcher init failed: %w", err)
	}
	a.headless = fetcher
	a.logger.Info("using headless fetcher for markup", zap.Int("max_parallel", hc.MaxParallel))
	return fetcher, crawler.ModeRendered, nil
}

func setupSinks(ctx context.Context, cfg config.SinkConfig, logger *zap.Logger) ([]sink.Named, error) {
	named := make([]sink.Named, 0, len(cfg.Kinds))
	fail := func(err error) ([]sink.Named, error) {
		if closeErr := sink.NewMulti(logger, named...).Close(); closeErr != nil {
			logger.Warn("closing sinks after init failure", zap.Error(closeErr))
		}
		return nil, err
	}
	for _, kind := range cfg.Kinds {
		var (
			s   crawler.Sink
			err error
		)
		switch kind {
		case config.SinkMemory:
			s = memorysink.New()
		case config.SinkJSONL:
			var js *jsonlsink.Sink
			if js, err = jsonlsink.New(cfg.JSONL.Path); err == nil {
				logger.Info("writing records to jsonl", zap.String("path", js.Path()))
				s = js
			}
		case config.SinkGCS:
			s, err = newGCSSink(ctx, cfg.GCS)
			logger.Debug("gcs sink", zap.String("bucket", cfg.GCS.Bucket), zap.String("prefix", cfg.GCS.Prefix))
		case config.SinkPostgres:
			s, err = newPostgresSink(ctx, cfg.Postgres)
			logger.Debug("postgres sink", zap.String("table", cfg.Postgres.Table))
		case config.SinkPubSub:
			s, err = pubsubsink.New(ctx, pubsubsink.Config{ProjectID: cfg.PubSub.ProjectID, TopicID: cfg.PubSub.TopicID})
			logger.Debug("pubsub sink", zap.String("project", cfg.PubSub.ProjectID), zap.String("topic", cfg.PubSub.TopicID))
		default:
			err = fmt.Errorf("unknown sink kind %q", kind)
		}
		if err != nil {
			return fail(fmt.Errorf("%s sink init failed: %w", kind, err))
		}
		named = append(named, sink.Named{Name: kind, Sink: s})
	}
	return named, nil
}

func newGCSSink(ctx context.Context, cfg config.GCSConfig) (*gcssink.Sink, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("gcs client: %w", err)
	}
	s, err := gcssink.New(client, gcssink.Config{Bucket: cfg.Bucket, Prefix: cfg.Prefix}, sha256.New())
	if err != nil {
		return nil, errors.Join(err, client.Close())
	}
	return s, nil
}

func newPostgresSink(ctx context.Context, cfg config.PostgresConfig) (*pgsink.Sink, error) {
	s, err := pgsink.New(ctx, pgsink.Config{
		DSN:             cfg.DSN,
		Table:           cfg.Table,
		MaxConns:        cfg.MaxConns,
		MinConns:        cfg.MinConns,
		MaxConnLifetime: cfg.MaxConnLifetime,
	})
	if err != nil {
		return nil, err
	}
	if cfg.EnsureSchema {
		if err := s.EnsureSchema(ctx); err != nil {
			return nil, errors.Join(err, s.Close())
		}
	}
	return s, nil
}

// Run plans the configured input and crawls it. When metrics.listen_addr is
// set the ops endpoint is served for the duration of the run.
func (a *App) Run(ctx context.Context) (dispatcher.Summary, error) {
	tasks, err := a.planner.Plan(a.req.Plan)
	if err != nil {
		return dispatcher.Summary{}, fmt.Errorf("plan crawl: %w", err)
	}
	a.logger.Info("crawl planned",
		zap.Int("tasks", len(tasks)),
		zap.Int("max_pages", a.req.Plan.MaxPages),
		zap.Int("max_items", a.req.MaxItems),
		zap.Bool("prefer_api", a.req.PreferAPI),
	)

	if a.apiServer != nil {
		serveCtx, stopServing := context.WithCancel(ctx)
		served := make(chan struct{})
		go func() {
			defer close(served)
			if err := a.apiServer.ListenAndServe(serveCtx, a.cfg.Metrics.ListenAddr); err != nil {
				a.logger.Error("ops endpoint failed", zap.Error(err))
			}
		}()
		defer func() {
			stopServing()
			<-served
		}()
	}

	return a.dispatch.Run(ctx, tasks, a.req.MaxItems)
}

// Progress reports the live quota snapshot.
func (a *App) Progress() dispatcher.Progress {
	return a.dispatch.Progress()
}

// Memory returns the in-process sink when one is configured.
func (a *App) Memory() *memorysink.Sink {
	return a.memory
}

// Close releases sinks and the browser.
func (a *App) Close() error {
	var errs []error
	if a.sinks != nil {
		if err := a.sinks.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closeHeadless()
	if err := a.logger.Sync(); err != nil {
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
	a.logger.Info("shutdown complete")
	return errors.Join(errs...)
}

func (a *App) closeHeadless() {
	if a.headless != nil {
		a.headless.Close()
	}
}

package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"b2monitor/api/handlers"
	"b2monitor/api/router"
	"b2monitor/config"
	"b2monitor/internal/aggregate"
	"b2monitor/internal/bucketcfg"
	"b2monitor/internal/buffer"
	"b2monitor/internal/flush"
	"b2monitor/internal/hub"
	"b2monitor/internal/ingest"
	"b2monitor/internal/relay"
	"b2monitor/internal/storage"
	"b2monitor/pkg/logger"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

type Server struct {
	httpServer    *http.Server
	metricsServer *http.Server
	logger        *logger.Logger

	store      *storage.MongoDB
	buf        buffer.EventBuffer
	aggregator *aggregate.Aggregator
	flusher    *flush.Worker
	amqpRelay  *relay.AMQPRelay
	broadcast  *hub.Hub

	cancelBackground context.CancelFunc
	background       sync.WaitGroup
}

func NewServer(cfg *config.Config, log *logger.Logger) (*Server, error) {
	store, err := storage.NewMongoDB(cfg.MongoDB.URI, cfg.MongoDB.Database, log.Named("storage"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	var (
		buf        buffer.EventBuffer
		reporter   buffer.StatsReporter
		cacheRedis *redis.Client
	)
	switch cfg.Buffer.Backend {
	case "memory":
		mem := buffer.NewMemoryBuffer()
		buf, reporter = mem, mem
		log.Named("buffer").Warn("Using in-memory buffer; events in flight are lost on crash")
	default:
		rb, err := buffer.NewRedisBuffer(cfg.Buffer.RedisURL, log.Named("buffer"))
		if err != nil {
			return nil, fmt.Errorf("failed to create redis buffer: %w", err)
		}
		buf, reporter = rb, rb
		// The bucket config cache shares the buffer's Redis instance.
		if opts, err := redis.ParseURL(cfg.Buffer.RedisURL); err == nil {
			cacheRedis = redis.NewClient(opts)
		}
	}

	broadcastHub := hub.NewHub(cfg.Broadcast.SubscriberBuffer, log.Named("hub"))

	var publisher hub.Publisher = broadcastHub
	var amqpRelay *relay.AMQPRelay
	if cfg.Broadcast.AMQPURL != "" {
		amqpRelay, err = relay.NewAMQPRelay(cfg.Broadcast.AMQPURL, cfg.Broadcast.Exchange, log.Named("relay"))
		if err != nil {
			return nil, fmt.Errorf("failed to create broadcast relay: %w", err)
		}
		publisher = hub.NewRelayed(broadcastHub, amqpRelay, log.Named("relay"))
	}

	aggregator := aggregate.NewAggregator(cfg.Aggregate.WindowInterval, publisher.PublishSummary, log.Named("aggregate"))
	writer := ingest.NewWriter(buf, store, log.Named("ingest"))
	resolver := bucketcfg.NewResolver(store, cacheRedis, log.Named("bucketcfg"))

	var flusher *flush.Worker
	if cfg.Buffer.RunFlushWorker {
		flusher = flush.NewWorker(buf, store, cfg.Buffer.FlushInterval, log.Named("flush"))
	}

	r := router.Setup(log, router.Handlers{
		Webhook: handlers.NewWebhookHandler(log.Named("webhook"), resolver, writer, aggregator, publisher),
		Events:  handlers.NewEventsHandler(log.Named("events"), store),
		Stream:  handlers.NewStreamHandler(log.Named("stream"), broadcastHub),
		Buckets: handlers.NewBucketsHandler(log.Named("buckets"), store, resolver),
		Buffer:  reporter,
	})

	metricsServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Monitoring.PrometheusPort),
		Handler: promhttp.Handler(),
	}

	return &Server{
		httpServer: &http.Server{
			Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
			Handler: r,
		},
		metricsServer: metricsServer,
		logger:        log,
		store:         store,
		buf:           buf,
		aggregator:    aggregator,
		flusher:       flusher,
		amqpRelay:     amqpRelay,
		broadcast:     broadcastHub,
	}, nil
}

func (s *Server) Start() error {
	s.startBackground()

	go func() {
		s.logger.Info("Metrics server starting on " + s.metricsServer.Addr)
		if err := s.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Errorf("metrics server error: %v", err)
		}
	}()

	s.logger.Info("Server starting on " + s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// startBackground launches the aggregation and flush loops and tracks
// them so Shutdown can join them before the store closes.
func (s *Server) startBackground() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancelBackground = cancel

	s.background.Add(1)
	go func() {
		defer s.background.Done()
		s.aggregator.Run(ctx)
	}()
	if s.flusher != nil {
		s.background.Add(1)
		go func() {
			defer s.background.Done()
			s.flusher.Run(ctx)
		}()
	}
	if s.amqpRelay != nil {
		if err := s.amqpRelay.Consume(ctx, s.broadcast); err != nil {
			s.logger.Errorf("failed to start relay consumer: %v", err)
		}
	}
}

func (s *Server) Shutdown() error {
	s.logger.Info("Server shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	err := s.httpServer.Shutdown(ctx)

	// Stop background loops after the listener so in-flight requests
	// can still enqueue, then wait for them; the flush worker's final
	// drain must finish writing before the store goes away.
	if s.cancelBackground != nil {
		s.cancelBackground()
	}
	s.background.Wait()

	if s.amqpRelay != nil {
		if closeErr := s.amqpRelay.Close(); closeErr != nil {
			s.logger.Errorf("failed to close relay: %v", closeErr)
		}
	}
	if s.store != nil {
		if closeErr := s.store.Close(ctx); closeErr != nil {
			s.logger.Errorf("failed to close store: %v", closeErr)
		}
	}
	_ = s.metricsServer.Close()
	return err
}

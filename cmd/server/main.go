package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	commshandler "commhub/internal/comms/handler"
	commsservice "commhub/internal/comms/service"
	commsstore "commhub/internal/comms/store"
	"commhub/internal/extraction"
	governancehandler "commhub/internal/governance/handler"
	"commhub/internal/governance/kafka"
	"commhub/internal/governance/policy"
	governanceservice "commhub/internal/governance/service"
	governancestore "commhub/internal/governance/store"
	identityhandler "commhub/internal/identity/handler"
	identityservice "commhub/internal/identity/service"
	identitystore "commhub/internal/identity/store"
	"commhub/internal/platform/config"
	"commhub/internal/platform/httpserver"
	"commhub/internal/platform/logger"
	"commhub/internal/platform/metrics"
	"commhub/internal/platform/middleware"
	"commhub/internal/platform/postgres"
	redisplatform "commhub/internal/platform/redis"
	"commhub/internal/processing"
	processingstore "commhub/internal/processing/store"
	"commhub/internal/sweep"
	"commhub/internal/thread"
	httptransport "commhub/internal/transport/http"
	"commhub/pkg/domain"
	"commhub/pkg/platform/sentinel"
)

// main wires dependencies and owns the process lifecycle. Business logic
// lives in the internal service packages.
func main() {
	_ = godotenv.Load()

	cfg := config.FromEnv()
	log := logger.New()

	ctx := context.Background()

	db, err := postgres.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("postgres connection failed", "error", err)
		os.Exit(1)
	}

	var (
		identities identitystore.Store
		comms      commsstore.Store
		proclog    processingstore.Store
		govstore   governancestore.Store
	)
	if db != nil {
		if err := postgres.EnsureSchema(ctx, db); err != nil {
			log.Error("schema setup failed", "error", err)
			os.Exit(1)
		}
		identities = identitystore.NewPostgres(db)
		comms = commsstore.NewPostgres(db)
		proclog = processingstore.NewPostgres(db)
		govstore = governancestore.NewPostgres(db)
		log.Info("using postgres stores")
	} else {
		identities = identitystore.NewInMemory()
		comms = commsstore.NewInMemory()
		proclog = processingstore.NewInMemory()
		govstore = governancestore.NewInMemory()
		log.Warn("DATABASE_URL not set, using in-memory stores")
	}

	if err := seedPolicies(ctx, govstore); err != nil {
		log.Error("policy seed failed", "error", err)
		os.Exit(1)
	}

	cache, err := redisplatform.New(ctx, cfg.RedisURL)
	if err != nil {
		log.Error("redis connection failed", "error", err)
		os.Exit(1)
	}

	var brokers []string
	if cfg.KafkaBrokers != "" {
		brokers = strings.Split(cfg.KafkaBrokers, ",")
	}
	publisher, err := kafka.NewPublisher(brokers, cfg.KafkaTopic, log)
	if err != nil {
		log.Error("kafka connection failed", "error", err)
		os.Exit(1)
	}

	m := metrics.New()

	policies := policy.NewResolver(govstore, log)

	govOpts := []governanceservice.Option{governanceservice.WithMetrics(m)}
	if db != nil {
		govOpts = append(govOpts, governanceservice.WithDB(db))
	}
	if publisher != nil {
		govOpts = append(govOpts, governanceservice.WithPublisher(publisher))
	}
	governance := governanceservice.New(govstore, policies,
		governanceservice.Resources(identities, comms), log, govOpts...)

	identity := identityservice.New(identities, log,
		identityservice.WithMetrics(m),
		identityservice.WithDeleter(governance),
	)

	linker := thread.NewLinker(comms, log)
	recorder := processing.NewRecorder(proclog, log, processing.WithMetrics(m))

	commsOpts := []commsservice.Option{
		commsservice.WithMetrics(m),
		commsservice.WithConfidenceThreshold(cfg.ConfidenceThreshold),
	}
	if cfg.ExtractionURL != "" {
		commsOpts = append(commsOpts, commsservice.WithClassifier(extraction.NewClient(cfg.ExtractionURL)))
	}
	if cache != nil {
		commsOpts = append(commsOpts, commsservice.WithCache(cache))
	}
	communications := commsservice.New(comms, resolverAdapter{identity}, linker, recorder, log, commsOpts...)

	validator := middleware.NewHMACValidator(cfg.JWTSigningKey)

	checks := map[string]httptransport.HealthCheck{}
	if db != nil {
		checks["postgres"] = db.PingContext
	}
	if cache != nil {
		checks["redis"] = cache.Health
	}

	router := httptransport.NewRouter(log, checks,
		commshandler.New(communications, log, validator,
			commshandler.WithIngestKeyHash(cfg.IngestKeyHash)),
		identityhandler.New(identity, log, validator),
		governancehandler.New(governance, log, validator),
	)

	runCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.SweepInterval > 0 {
		sweeper := sweep.New(communications, comms, identities, policies, log, m,
			cfg.SweepInterval, cfg.ArchiveAfterDays)
		go sweeper.Run(runCtx)
	}

	srv := httpserver.New(cfg.Addr, router)

	go func() {
		log.Info("starting commhub", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			stop()
		}
	}()

	<-runCtx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
	}
	if publisher != nil {
		publisher.Close()
	}
	if cache != nil {
		_ = cache.Close()
	}
	if db != nil {
		_ = db.Close()
	}
}

// resolverAdapter narrows the identity service to what ingestion needs.
type resolverAdapter struct {
	identity *identityservice.Service
}

func (r resolverAdapter) Resolve(ctx context.Context, platform domain.Platform, identifier, displayName string) (commsservice.ResolvedParty, error) {
	res, err := r.identity.Resolve(ctx, platform, identifier, displayName)
	if err != nil {
		return commsservice.ResolvedParty{}, err
	}
	return commsservice.ResolvedParty{ContactID: res.Contact.ID, Created: res.Created}, nil
}

// seedPolicies installs the default deletion policies without overwriting
// operator-tuned ones.
func seedPolicies(ctx context.Context, st governancestore.Store) error {
	for _, p := range policy.Defaults() {
		_, err := st.FindPolicy(ctx, p.EntityType)
		if err == nil {
			continue
		}
		if !errors.Is(err, sentinel.ErrNotFound) {
			return err
		}
		if err := st.SavePolicy(ctx, &p); err != nil {
			return err
		}
	}
	return nil
}

// Command server runs the certificate platform API: the authenticated
// catalog and issuance endpoints plus the public verification surface.
//
// main only wires dependencies and owns the process lifecycle. Business
// logic lives in the internal feature packages.
package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"constancia/internal/audit"
	"constancia/internal/catalog"
	cataloghandler "constancia/internal/catalog/handler"
	"constancia/internal/certificate"
	certificatehandler "constancia/internal/certificate/handler"
	"constancia/internal/delivery"
	"constancia/internal/jwtauth"
	"constancia/internal/platform/config"
	"constancia/internal/platform/httpserver"
	"constancia/internal/platform/logger"
	"constancia/internal/platform/metrics"
	"constancia/internal/platform/postgres"
	platformredis "constancia/internal/platform/redis"
	"constancia/internal/renderer"
	httptransport "constancia/internal/transport/http"
	"constancia/internal/validation"
	"constancia/internal/verification"
	verificationhandler "constancia/internal/verification/handler"
)

func main() {
	cfg := config.FromEnv()
	log := logger.New()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Persistence. Without a DSN the server runs entirely in memory, which
	// is how local development and the demo environment operate.
	var (
		db        *sql.DB
		catStore  catalog.Store
		certStore certificate.Store
		auditDst  audit.Store
	)
	if cfg.Postgres.DSN != "" {
		var err error
		db, err = postgres.Open(cfg.Postgres)
		if err != nil {
			log.Error("postgres unavailable", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		catStore = catalog.NewPostgres(db)
		certStore = certificate.NewPostgres(db)
		auditDst = audit.NewPostgres(db)
		log.Info("storage ready", "backend", "postgres")
	} else {
		catStore = catalog.NewMemoryStore()
		certStore = certificate.NewMemoryStore()
		auditDst = audit.NewMemoryStore()
		log.Warn("no DATABASE_URL set, using in-memory storage")
	}

	// Audit pipeline: services emit into an inbox, a worker drains it into
	// the store and, when configured, mirrors events onto Kafka.
	if len(cfg.Audit.KafkaBrokers) > 0 {
		sink, err := audit.NewKafkaSink(cfg.Audit.KafkaBrokers, cfg.Audit.KafkaTopic)
		if err != nil {
			log.Error("kafka audit sink unavailable", "error", err)
			os.Exit(1)
		}
		defer sink.Close()
		auditDst = audit.FanOut{auditDst, sink}
		log.Info("audit events mirrored to kafka", "topic", cfg.Audit.KafkaTopic)
	}
	inbox := audit.NewInbox(256, log)
	worker := audit.NewWorker(auditDst, inbox, log)
	go func() {
		if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("audit worker stopped", "error", err)
		}
	}()
	auditor := audit.NewPublisher(inbox)

	cache, err := platformredis.New(cfg.Redis)
	if err != nil {
		log.Error("redis unavailable", "error", err)
		os.Exit(1)
	}
	if cache != nil {
		defer cache.Close()
	}

	m := metrics.New()
	rules := validation.New(cfg.Validation.InstitutionalEmailDomains)

	catalogSvc := catalog.NewService(catStore, certStore, auditor, log, db)

	pdf, err := renderer.NewPDF(cfg.Renderer.OutputDir, log)
	if err != nil {
		log.Error("renderer setup failed", "error", err)
		os.Exit(1)
	}
	if err := pdf.Healthy(ctx); err != nil {
		// Issuance still persists certificates when rendering is down;
		// documents are produced later through the retry endpoint.
		log.Warn("document renderer not healthy at startup", "error", err)
	}

	verifier := verification.NewService(certStore, catalogSvc, cache, cfg.Redis.ViewTTL, m, log)

	issuer := certificate.NewIssuer(certificate.IssuerConfig{
		Store:         certStore,
		Catalog:       catalogSvc,
		Renderer:      pdf,
		Views:         verifier,
		Metrics:       m,
		Audit:         auditor,
		Logger:        log,
		FolioPrefix:   cfg.Issuance.FolioPrefix,
		RenderTimeout: cfg.Renderer.Timeout,
	})

	mailer := delivery.NewBrevo(cfg.Mailer, log)
	dispatcher := delivery.NewDispatcher(certStore, catalogSvc, mailer, m, auditor, log)
	bulk := certificate.NewBulk(issuer, catalogSvc, dispatcher, cfg.Issuance.BulkWorkers)

	router := httptransport.NewRouter(httptransport.Deps{
		Catalog:      cataloghandler.New(catalogSvc, rules, log),
		Certificates: certificatehandler.New(issuer, bulk, dispatcher, rules, log),
		Verification: verificationhandler.New(verifier, log),
		Auth:         jwtauth.NewService(cfg.Server.JWTSigningKey, "constancia"),
		Metrics:      m,
		Logger:       log,
		DB:           db,
	})

	srv := httpserver.New(cfg.Server.Addr, router)

	go func() {
		log.Info("server listening", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
	}
}

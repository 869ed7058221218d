// Command coordinatord runs the identity observation coordinator: the
// HTTPS API that operators submit presence/content/meta records through,
// backed by Postgres and a background lease sweeper.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"github.com/berserksystems/instrumentality/internal/access"
	"github.com/berserksystems/instrumentality/internal/config"
	"github.com/berserksystems/instrumentality/internal/dbutil"
	"github.com/berserksystems/instrumentality/internal/httpapi"
	"github.com/berserksystems/instrumentality/internal/identity"
	"github.com/berserksystems/instrumentality/internal/ingest"
	"github.com/berserksystems/instrumentality/internal/logging"
	"github.com/berserksystems/instrumentality/internal/metrics"
	"github.com/berserksystems/instrumentality/internal/queue"
	"github.com/berserksystems/instrumentality/internal/ratelimit"
	"github.com/berserksystems/instrumentality/internal/recordmodel"
	"github.com/berserksystems/instrumentality/internal/recordstore"
	"github.com/berserksystems/instrumentality/internal/registry"
	"github.com/berserksystems/instrumentality/internal/sweeper"
)

func main() {
	configPath := flag.String("config", "config.toml", "path to the coordinator's TOML configuration file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := logging.New(logging.Config{Level: cfg.Settings.LogLevel})
	boot := log.Component("bootstrap")

	sqlDB, err := sql.Open("postgres", cfg.Database.DSN())
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer sqlDB.Close()

	rootCtx := context.Background()
	if err := sqlDB.PingContext(rootCtx); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}
	db := dbutil.New(sqlDB)

	operators := identity.NewPostgresOperators(db)
	referrals := identity.NewPostgresReferrals(db)
	subjects := registry.NewPostgresSubjects(db)
	groups := registry.NewPostgresGroups(db)
	queueStore := queue.NewPostgresStore(db)
	records := recordstore.New(db)

	for _, s := range []interface {
		EnsureSchema(ctx context.Context) error
	}{operators, referrals, subjects, groups, queueStore, records} {
		if err := s.EnsureSchema(rootCtx); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}

	q := &queue.Queue{Store: queueStore, Subjects: subjects}

	configView := recordmodel.ConfigView{
		ContentTypes:  cfg.ContentTypes,
		PresenceTypes: cfg.PresenceTypes,
	}

	reg := &registry.Registry{
		Subjects: subjects,
		Groups:   groups,
		Queue:    q,
		Config:   configView,
		WithTx:   db.WithTx,
	}

	pipeline := &ingest.Pipeline{
		Records: records,
		Queue:   q,
		Config:  configView,
		WithTx:  db.WithTx,
	}

	metricsReg := metrics.New()
	rateLimiter := ratelimit.New(ratelimit.DefaultConfig())
	stopCleanup := rateLimiter.StartCleanup(10 * time.Minute)
	defer stopCleanup()

	srv := &http.Server{
		Addr: fmt.Sprintf("%s:%d", cfg.Network.Address, cfg.Network.Port),
	}

	server := &httpapi.Server{
		Access:         &access.Boundary{Operators: operators},
		Operators:      operators,
		Referrals:      referrals,
		Registry:       reg,
		Queue:          q,
		Ingest:         pipeline,
		Config:         configView,
		Log:            log,
		Metrics:        metricsReg,
		RateLimit:      rateLimiter,
		RequestTimeout: cfg.Settings.RequestTimeout(),
		WithTx:         db.WithTx,
		Shutdown: func() {
			_ = srv.Shutdown(context.Background())
		},
	}
	srv.Handler = server.NewRouter()

	sweep := sweeper.New(queueStore, time.Second, cfg.Settings.QueueTimeout(), log.Component("sweeper"))
	sweepCtx, cancelSweep := context.WithCancel(rootCtx)
	sweep.Start(sweepCtx)

	serveErr := make(chan error, 1)
	go func() {
		boot.WithFields(map[string]any{
			"address": srv.Addr,
			"tls":     cfg.TLS.Cert != "",
		}).Info("coordinator listening")

		var err error
		if cfg.TLS.Cert != "" && cfg.TLS.Key != "" {
			err = srv.ListenAndServeTLS(cfg.TLS.Cert, cfg.TLS.Key)
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			serveErr <- err
			return
		}
		serveErr <- nil
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		boot.WithField("signal", sig.String()).Info("shutting down")
	case err := <-serveErr:
		cancelSweep()
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		boot.WithError(err).Error("graceful shutdown failed")
	}
	if err := sweep.Stop(shutdownCtx); err != nil {
		boot.WithError(err).Error("sweeper stop failed")
	}
	cancelSweep()

	<-serveErr
	return nil
}

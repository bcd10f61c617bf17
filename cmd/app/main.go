package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/local/writingtools/internal/ai"
	"github.com/local/writingtools/internal/capture"
	cfgpkg "github.com/local/writingtools/internal/config"
	"github.com/local/writingtools/internal/extract"
	logpkg "github.com/local/writingtools/internal/logger"
	"github.com/local/writingtools/internal/metrics"
	"github.com/local/writingtools/internal/orchestrator"
	"github.com/local/writingtools/internal/settings"
	"github.com/local/writingtools/internal/statuscheck"
	"github.com/local/writingtools/internal/storage"
	"github.com/local/writingtools/internal/store"
	"github.com/local/writingtools/internal/web"
)

func main() {
	cfg := cfgpkg.FromEnv()

	if len(os.Args) > 1 && os.Args[1] == "encrypt-secret" {
		os.Exit(encryptSecret(cfg, os.Args[2:]))
	}

	_ = logpkg.Init(logpkg.Options{
		Level:        cfg.Logging.Level,
		Pretty:       cfg.Logging.Pretty,
		File:         cfg.Logging.File,
		MaxSizeMB:    cfg.Logging.MaxSizeMB,
		MaxBackups:   cfg.Logging.MaxBackups,
		MaxAgeDays:   cfg.Logging.MaxAgeDays,
		Compress:     cfg.Logging.Compress,
		SendToAxiom:  cfg.Axiom.Send && cfg.Axiom.APIKey != "",
		AxiomAPIKey:  cfg.Axiom.APIKey,
		AxiomOrgID:   cfg.Axiom.OrgID,
		AxiomDataset: cfg.Axiom.Dataset,
		AxiomFlush:   cfg.Axiom.FlushInterval,
	})
	defer logpkg.Close()
	metrics.Init()

	if err := run(cfg); err != nil {
		log.Error().Err(err).Msg("daemon stopped with error")
		logpkg.Close()
		os.Exit(1)
	}
	log.Info().Msg("shutdown complete")
}

func run(cfg cfgpkg.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := settings.Open(cfg.Settings.File, cfg.Settings.Passphrase)
	if err != nil {
		return fmt.Errorf("open settings: %w", err)
	}
	reg := buildRegistry(st.Snapshot(), cfg)
	st.Subscribe(func(s settings.Settings) { applySettings(reg, s, cfg) })
	if cfg.Settings.Watch {
		st.Watch()
	}

	var (
		shared  store.SharedSlot
		status  orchestrator.StatusStore
		pinger  statuscheck.RedisPinger
		s3Opts  = storage.S3Options{Region: cfg.S3.Region, AccessKeyID: cfg.S3.AccessKeyID, SecretAccessKey: cfg.S3.SecretAccessKey}
		outcome = &orchestrator.LastOutcome{}
	)
	if cfg.Redis.URL != "" {
		rdb, err := store.Connect(ctx, cfg.Redis.URL)
		if err != nil {
			return err
		}
		defer rdb.Close()
		shared = store.NewRedisSlot(rdb, cfg.Redis.SharedContentKey)
		status = orchestrator.NewStatusAdapter(store.NewRedisStatus(rdb, cfg.Redis.StatusTTL))
		pinger = store.Pinger{Client: rdb}
	} else {
		log.Warn().Msg("REDIS_URL not set: shared content stays in-process and session status is not persisted")
		shared = &store.MemorySlot{}
	}

	fetcher := extract.NewFetcher(cfg.Fetch.Timeout, cfg.Fetch.MaxBytes)
	orch := orchestrator.New(orchestrator.Dependencies{
		Providers: reg,
		Sniffer:   capture.NewSniffer(storage.NewReader(s3Opts, cfg.Fetch.MaxReferenceBytes)),
		Fetcher:   fetcher,
		Shared:    shared,
		Status:    status,
		Delivery:  orchestrator.Fanout{orchestrator.LogDelivery{}, outcome},
	})

	srv := web.New(cfg.Server.Addr, web.Deps{
		Orchestrator: orch,
		Registry:     reg,
		Settings:     st,
		Shared:       shared,
		Fetcher:      fetcher,
		Outcome:      outcome,
		WaitTimeout:  cfg.Server.CaptureWait,
		Checker: statuscheck.New(statuscheck.Options{
			Redis:    pinger,
			S3Bucket: cfg.S3.StatusBucket,
			S3:       s3Opts,
			Settings: st,
		}),
	})

	log.Info().
		Str("environment", cfg.Environment).
		Str("provider", reg.ActiveName()).
		Str("settings", cfg.Settings.File).
		Bool("redis", cfg.Redis.URL != "").
		Msg("writingtools starting")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Start(gctx, cfg.Server.ShutdownTimeout) })
	g.Go(func() error {
		<-gctx.Done()
		orch.Cancel()
		return nil
	})
	return g.Wait()
}

func buildRegistry(s settings.Settings, cfg cfgpkg.Config) *ai.Registry {
	var ps []ai.Provider
	for _, name := range []string{ai.Gemini, ai.OpenAI} {
		p, err := ai.New(name, s.ProviderConfig(name, cfg.Provider.Timeout))
		if err != nil {
			log.Error().Err(err).Str("provider", name).Msg("provider init failed")
			continue
		}
		ps = append(ps, p)
	}
	reg := ai.NewRegistry(s.CurrentProvider, ps...)
	metrics.SetActiveProvider(reg.ActiveName(), reg.Names())
	return reg
}

// applySettings swaps in providers built from s. Calls already in flight keep the
// instance they started with.
func applySettings(reg *ai.Registry, s settings.Settings, cfg cfgpkg.Config) {
	for _, name := range []string{ai.Gemini, ai.OpenAI} {
		p, err := ai.New(name, s.ProviderConfig(name, cfg.Provider.Timeout))
		if err != nil {
			log.Error().Err(err).Str("provider", name).Msg("provider rebuild failed")
			continue
		}
		reg.Replace(p)
	}
	if err := reg.SetActive(s.CurrentProvider); err != nil {
		log.Error().Err(err).Msg("active provider not switched")
	}
	metrics.SetActiveProvider(reg.ActiveName(), reg.Names())
	log.Info().Str("provider", reg.ActiveName()).Msg("providers rebuilt from settings")
}

func encryptSecret(cfg cfgpkg.Config, args []string) int {
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "usage: writingtools encrypt-secret <value>")
		return 2
	}
	out, err := settings.EncryptSecret(args[0], cfg.Settings.Passphrase)
	if err != nil {
		fmt.Fprintln(os.Stderr, "encrypt-secret:", err)
		return 1
	}
	fmt.Println(out)
	return 0
}

// Command webhook runs the Admission Webhook (§4.11): validate InfraWeave
// custom resources synchronously before admission.
package main

import (
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/infraweave-io/infraweave/internal/artifactstore"
	"github.com/infraweave-io/infraweave/internal/config"
	"github.com/infraweave-io/infraweave/internal/provider"
	"github.com/infraweave-io/infraweave/internal/webhook"
)

func main() {
	cfg := config.FromEnv()

	log, err := newLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, "building logger:", err)
		os.Exit(1)
	}
	defer log.Sync()

	driver, err := provider.Select(cfg)
	if err != nil {
		log.Fatal("selecting provider driver", zap.Error(err))
	}
	store := artifactstore.New(driver, cfg.TableName, cfg.BucketName, cfg.BypassFileSizeCheck)

	srv := &webhook.Server{
		Resolver: store,
		Log:      log,
		CertFile: cfg.WebhookCertFile,
		KeyFile:  cfg.WebhookKeyFile,
		Addr:     fmt.Sprintf(":%d", cfg.WebhookPort),
	}

	log.Info("starting admission webhook", zap.Int("port", cfg.WebhookPort))
	if err := srv.ListenAndServe(); err != nil {
		log.Fatal("webhook server exited", zap.Error(err))
	}
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	var l zap.AtomicLevel
	if err := l.UnmarshalText([]byte(level)); err == nil {
		cfg.Level = l
	}
	return cfg.Build()
}

package cmd

import (
	"context"
	"log"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/callpilot/protofill/internal/inference"
	"github.com/callpilot/protofill/internal/logger"
	"github.com/callpilot/protofill/internal/partner"
	"github.com/callpilot/protofill/internal/pipeline"
	"github.com/callpilot/protofill/internal/secrets"
	"github.com/callpilot/protofill/internal/server"
	"github.com/callpilot/protofill/internal/shadowtype"
	"github.com/callpilot/protofill/internal/store"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const defaultStorePath = "data/calls.db"

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the webhook server and process calls as they arrive",
	Run: func(_ *cobra.Command, _ []string) {
		serve()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func serve() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger, err := logger.New(viper.GetBool("json"), viper.GetBool("debug"))
	if err != nil {
		log.Fatalf("creating a logger: %s", err)
	}

	config, err := getConfig()
	if err != nil {
		logger.Fatal("getting a config", zap.Error(err))
	}
	if config == nil {
		logger.Fatal("config is required")
	}

	logger.Info("starting the protofill server", zap.String("version", version))

	provider, err := newProvider(ctx, config.Inference, logger)
	if err != nil {
		logger.Fatal("building inference provider", zap.Error(err))
	}
	logger.Info("inference provider ready",
		zap.String("provider", provider.Name()),
		zap.String("model", provider.Model()),
	)

	var partnerClient *partner.Client
	var source pipeline.QuestionnaireSource
	var deliverer server.Deliverer

	token, err := resolvePartnerToken(config.Partner)
	if err != nil {
		logger.Fatal(
			"loading partner api token",
			zap.Error(err),
			zap.String("hint", "set PARTNER_TOKEN_FILE environment variable or the 'partner.token-file' key in the configuration file"),
		)
	}
	if token != "" {
		partnerClient = partner.New(ctx, logger, config.Partner.APIURL, token)
		source = partnerClient
		deliverer = partnerClient
	} else {
		logger.Warn("partner api not configured, delivery disabled")
	}

	storePath := config.StorePath
	if storePath == "" {
		storePath = defaultStorePath
	}
	calls, err := store.Open(storePath)
	if err != nil {
		logger.Fatal("opening call log", zap.String("path", storePath), zap.Error(err))
	}
	defer calls.Close()

	processor, err := newPipelineProcessor(provider, source, config, logger)
	if err != nil {
		logger.Fatal("building pipeline", zap.Error(err))
	}

	serverCfg, err := buildServerConfig(config.Server)
	if err != nil {
		logger.Fatal("building server config", zap.Error(err))
	}

	srv := server.New(serverCfg, processor, deliverer, calls, logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Run()
	}()

	select {
	case err := <-errCh:
		if err != nil {
			logger.Fatal("server failed", zap.Error(err))
		}
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown incomplete", zap.Error(err))
		}
	}
}

func newPipelineProcessor(
	provider inference.Provider,
	source pipeline.QuestionnaireSource,
	config *Config,
	logger *zap.Logger,
) (*pipeline.Processor, error) {
	cacheCfg := shadowtype.DefaultCacheConfig()
	opts := pipeline.Options{}
	if config.Pipeline != nil {
		opts.ConfigDir = config.Pipeline.ConfigDir
		opts.FallbackProtocolPath = config.Pipeline.FallbackTemplate
		if config.Pipeline.CacheSize > 0 {
			cacheCfg.MaxSize = config.Pipeline.CacheSize
		}
	}

	cache, err := shadowtype.NewLRUCache(cacheCfg)
	if err != nil {
		return nil, err
	}
	return pipeline.NewProcessor(provider, cache, source, logger, opts), nil
}

func buildServerConfig(cfg *ServerConfig) (*server.Config, error) {
	serverCfg := server.DefaultConfig()
	serverCfg.Debug = viper.GetBool("debug")
	if cfg == nil {
		return serverCfg, nil
	}

	if cfg.Host != "" {
		serverCfg.Host = cfg.Host
	}
	if cfg.Port != 0 {
		serverCfg.Port = cfg.Port
	}
	if strings.TrimSpace(cfg.WebhookSecretFile) != "" {
		secret, err := secrets.Load(secrets.Source{
			Name: "webhook secret",
			File: cfg.WebhookSecretFile,
		})
		if err != nil {
			return nil, err
		}
		serverCfg.WebhookSecret = secret
	}
	return serverCfg, nil
}

package cmd

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/callpilot/protofill/internal/inference"
	"github.com/callpilot/protofill/internal/secrets"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const (
	app = "protofill"
)

type Config struct {
	Inference *InferenceConfig `mapstructure:"inference"`
	Partner   *PartnerConfig   `mapstructure:"partner"`
	Server    *ServerConfig    `mapstructure:"server"`
	Pipeline  *PipelineConfig  `mapstructure:"pipeline"`
	StorePath string           `mapstructure:"store-path"`
}

type InferenceConfig struct {
	Provider string        `mapstructure:"provider"`
	Gemini   *GeminiConfig `mapstructure:"gemini"`
	OpenAI   *OpenAIConfig `mapstructure:"openai"`
}

type GeminiConfig struct {
	APIKeyFile string `mapstructure:"api-key-file"`
	Model      string `mapstructure:"model"`
}

type OpenAIConfig struct {
	APIKeyFile string `mapstructure:"api-key-file"`
	BaseURL    string `mapstructure:"base-url"`
	Model      string `mapstructure:"model"`
}

type PartnerConfig struct {
	APIURL    string `mapstructure:"api-url"`
	TokenFile string `mapstructure:"token-file"`
}

type ServerConfig struct {
	Host              string `mapstructure:"host"`
	Port              int    `mapstructure:"port"`
	WebhookSecretFile string `mapstructure:"webhook-secret-file"`
}

type PipelineConfig struct {
	ConfigDir        string `mapstructure:"config-dir"`
	FallbackTemplate string `mapstructure:"fallback-template"`
	CacheSize        int    `mapstructure:"cache-size"`
}

var (
	// Used for flags.
	cfgFile string

	rootCmd = &cobra.Command{
		Use:   app,
		Short: "protofill turns recruiting call transcripts into filled protocols and structured resumes",
	}
)

// Execute executes the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	if err := viper.BindEnv("inference.gemini.api-key-file", "GEMINI_API_KEY_FILE"); err != nil {
		log.Fatalf("binding GEMINI_API_KEY_FILE environment variable: %v", err)
	}
	if err := viper.BindEnv("inference.openai.api-key-file", "OPENAI_API_KEY_FILE"); err != nil {
		log.Fatalf("binding OPENAI_API_KEY_FILE environment variable: %v", err)
	}
	if err := viper.BindEnv("partner.token-file", "PARTNER_TOKEN_FILE"); err != nil {
		log.Fatalf("binding PARTNER_TOKEN_FILE environment variable: %v", err)
	}
	if err := viper.BindEnv("server.webhook-secret-file", "WEBHOOK_SECRET_FILE"); err != nil {
		log.Fatalf("binding WEBHOOK_SECRET_FILE environment variable: %v", err)
	}

	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "a config file (default is protofill.yaml in current directory)")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "verbose/debug output")
	rootCmd.PersistentFlags().BoolP("json", "j", false, "json format for logging")

	viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
}

func initConfig() {
	// Config needed only for the run and serve commands. If there is no
	// config, we can skip initialization.
	if runCmd.CalledAs() == "" && serveCmd.CalledAs() == "" {
		return
	}

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigName(app + ".yaml")
	}

	// We can't proceed if the config file parsed with error.
	if err := viper.ReadInConfig(); err != nil {
		log.Fatal(err)
	}
}

func getConfig() (*Config, error) {
	var config *Config
	err := viper.Unmarshal(&config)
	if err != nil {
		return config, err
	}

	return config, nil
}

// newProvider builds the inference router: the preferred backend first, any
// other configured backend as fallback.
func newProvider(ctx context.Context, cfg *InferenceConfig, logger *zap.Logger) (inference.Provider, error) {
	if cfg == nil {
		return nil, fmt.Errorf("inference section is required")
	}

	preferred := strings.TrimSpace(strings.ToLower(cfg.Provider))
	if preferred == "" {
		preferred = "gemini"
	}
	if preferred != "gemini" && preferred != "openai" {
		return nil, fmt.Errorf("unsupported inference provider: %s", cfg.Provider)
	}

	order := []string{"gemini", "openai"}
	if preferred == "openai" {
		order = []string{"openai", "gemini"}
	}

	var providers []inference.Provider
	for _, name := range order {
		p, err := buildBackend(ctx, name, cfg)
		if err != nil {
			if name == preferred {
				return nil, err
			}
			logger.Warn("skipping fallback inference backend", zap.String("backend", name), zap.Error(err))
			continue
		}
		if p != nil {
			providers = append(providers, p)
		}
	}

	return inference.NewRouter(logger, providers...)
}

// buildBackend returns nil without error when the backend is not configured.
func buildBackend(ctx context.Context, name string, cfg *InferenceConfig) (inference.Provider, error) {
	switch name {
	case "gemini":
		if cfg.Gemini == nil {
			return nil, nil
		}
		apiKey, err := secrets.Load(secrets.Source{
			Name: "gemini api key",
			File: cfg.Gemini.APIKeyFile,
		})
		if err != nil {
			return nil, fmt.Errorf("%w (set inference.gemini.api-key-file or GEMINI_API_KEY_FILE)", err)
		}
		return inference.NewGemini(ctx, apiKey, cfg.Gemini.Model)
	case "openai":
		if cfg.OpenAI == nil {
			return nil, nil
		}
		apiKey, err := secrets.Load(secrets.Source{
			Name: "openai api key",
			File: cfg.OpenAI.APIKeyFile,
		})
		if err != nil {
			return nil, fmt.Errorf("%w (set inference.openai.api-key-file or OPENAI_API_KEY_FILE)", err)
		}
		return inference.NewOpenAI(apiKey, cfg.OpenAI.BaseURL, cfg.OpenAI.Model)
	default:
		return nil, fmt.Errorf("unknown inference backend: %s", name)
	}
}

// resolvePartnerToken loads the partner API token when the partner section is
// configured. A nil return with no error means partner delivery is disabled.
func resolvePartnerToken(cfg *PartnerConfig) (string, error) {
	if cfg == nil || strings.TrimSpace(cfg.APIURL) == "" {
		return "", nil
	}

	tokenFile := strings.TrimSpace(cfg.TokenFile)
	if tokenFile == "" {
		tokenFile = strings.TrimSpace(viper.GetString("partner.token-file"))
	}

	return secrets.Load(secrets.Source{
		Name: "partner api token",
		File: tokenFile,
	})
}

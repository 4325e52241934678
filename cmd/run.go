package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"

	"github.com/callpilot/protofill/internal/logger"
	"github.com/callpilot/protofill/internal/partner"
	"github.com/callpilot/protofill/internal/pipeline"
	"github.com/callpilot/protofill/internal/store"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const (
	PromptYes = "Yes"
	PromptNo  = "No"
)

var prompt = promptui.Select{
	Label: "Deliver to partner?",
	Items: []string{PromptYes, PromptNo},
}

var runCmd = &cobra.Command{
	Use:   "run <webhook-file>",
	Short: "Process a single webhook payload from a file",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		run(cmd, args[0])
	},
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().BoolP("auto-approve", "y", false, "do not ask for confirmation before partner delivery")
	runCmd.Flags().BoolP("skip-delivery", "s", false, "process only, never deliver to the partner")
}

// run processes one recorded webhook payload end to end.
func run(cmd *cobra.Command, path string) {
	ctx := context.Background()

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

	logger.Info("starting the protofill run", zap.String("version", version))

	body, err := os.ReadFile(path)
	if err != nil {
		logger.Fatal("reading webhook payload", zap.String("path", path), zap.Error(err))
	}

	provider, err := newProvider(ctx, config.Inference, logger)
	if err != nil {
		logger.Fatal("building inference provider", zap.Error(err))
	}

	var partnerClient *partner.Client
	var source pipeline.QuestionnaireSource

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
	}

	processor, err := newPipelineProcessor(provider, source, config, logger)
	if err != nil {
		logger.Fatal("building pipeline", zap.Error(err))
	}

	result, err := processor.Process(ctx, body)
	if err != nil {
		logger.Fatal("processing call", zap.Error(err))
	}

	pretty, _ := json.MarshalIndent(result, "", "  ")
	fmt.Println(string(pretty))

	logCall(ctx, config, result, logger)

	if cmd.Flag("skip-delivery").Value.String() == "true" {
		logger.Info("exiting", zap.String("reason", "delivery skipped by flag"))
		return
	}
	if partnerClient == nil {
		logger.Info("exiting", zap.String("reason", "partner api not configured"))
		return
	}

	if cmd.Flag("auto-approve").Value.String() == "false" {
		_, action, err := prompt.Run()
		if err != nil {
			logger.Fatal("exiting", zap.Error(err))
		}
		if action == PromptNo {
			logger.Info("exiting", zap.String("reason", "got no from prompt"))
			return
		}
	}

	report, err := partnerClient.Deliver(result.Delivery())
	if err != nil {
		logger.Fatal("delivering to partner", zap.Error(err))
	}
	logger.Info("partner delivery finished",
		zap.String("conversation_id", result.ConversationID),
		zap.Int("succeeded", report.Succeeded()),
	)
}

// logCall records the verdict when a call log path is configured.
func logCall(ctx context.Context, config *Config, result *pipeline.Result, logger *zap.Logger) {
	if config.StorePath == "" {
		return
	}

	calls, err := store.Open(config.StorePath)
	if err != nil {
		logger.Error("opening call log", zap.Error(err))
		return
	}
	defer calls.Close()

	qualified := result.Qualification.IsQualified
	if _, err := calls.LogCall(ctx, result.Metadata, &qualified, result.Qualification.Errors); err != nil {
		logger.Error("call logging failed", zap.Error(err))
	}
}

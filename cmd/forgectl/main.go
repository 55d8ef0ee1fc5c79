package main

import (
	"context"
	"fmt"
	"os"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"forge-coach/internal/bootstrap"
	"forge-coach/internal/config"
	"forge-coach/internal/integrations/paramstore"
	"forge-coach/internal/repository"
)

var (
	// Global flags
	configPath  string
	local       bool
	personaFile string
)

var rootCmd = &cobra.Command{
	Use:   "forgectl",
	Short: "Run and exercise the forge coaching backend",
	Long: `forgectl serves the forge HTTP API and runs single exchanges from the
terminal.

With --local the persona comes from --persona-file (or the built-in persona)
and API keys from FORGE_OPENAI_API_KEY / FORGE_GEMINI_API_KEY. Without it,
both are read from SSM Parameter Store under param_prefix.`,
	SilenceUsage: true,
}

// runtime holds what every subcommand needs.
type runtime struct {
	v      *viper.Viper
	logger *zap.Logger
	params paramstore.Getter
	store  *repository.Client
}

// newRuntime loads configuration and builds the secret source. The exchange
// store is only created for remote runs with exchange_table set.
func newRuntime(ctx context.Context) (*runtime, error) {
	v, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logger, err := config.NewLogger(v)
	if err != nil {
		return nil, err
	}
	rt := &runtime{v: v, logger: logger}

	if local {
		params, err := bootstrap.LocalParams(v.GetString("param_prefix"), personaFile)
		if err != nil {
			return nil, err
		}
		rt.params = params
		return rt, nil
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	ssmClient, err := paramstore.New(awsssm.NewFromConfig(awsCfg))
	if err != nil {
		return nil, err
	}
	rt.params = ssmClient

	if table := v.GetString("exchange_table"); table != "" {
		store, err := repository.New(awsdynamodb.NewFromConfig(awsCfg), table)
		if err != nil {
			return nil, err
		}
		rt.store = store
	}
	return rt, nil
}

// deps converts the runtime into service dependencies.
func (rt *runtime) deps() bootstrap.Deps {
	d := bootstrap.Deps{Params: rt.params, Logger: rt.logger}
	if rt.store != nil {
		d.Recorder = rt.store
	}
	return d
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default: ./forge.yaml, ./configs, /etc/forge)")
	rootCmd.PersistentFlags().BoolVar(&local, "local", false, "Read persona and API keys locally instead of SSM")
	rootCmd.PersistentFlags().StringVar(&personaFile, "persona-file", "", "Persona text file used with --local")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(exchangeCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

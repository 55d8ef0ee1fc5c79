package main

import (
	"context"
	"fmt"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"
	"go.uber.org/zap"

	"forge-coach/handler"
	"forge-coach/internal/bootstrap"
	"forge-coach/internal/config"
	"forge-coach/internal/integrations/paramstore"
	"forge-coach/internal/repository"
)

func main() {
	ctx := context.Background()

	// ---- Configuration (read only here) ----
	v, err := config.Load(os.Getenv("FORGE_CONFIG_FILE"))
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to load config:", err)
		os.Exit(1)
	}
	logger, err := config.NewLogger(v)
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to build logger:", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	srvCfg, err := config.ServerConfig(v)
	if err != nil {
		logger.Fatal("invalid server config", zap.Error(err))
	}

	// ---- AWS SDK config ----
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		logger.Fatal("failed to load AWS config", zap.Error(err))
	}

	// ---- Clients ----
	ssmClient, err := paramstore.New(awsssm.NewFromConfig(awsCfg))
	if err != nil {
		logger.Fatal("failed to create SSM client", zap.Error(err))
	}

	deps := bootstrap.Deps{Params: ssmClient, Logger: logger}
	if table := v.GetString("exchange_table"); table != "" {
		store, err := repository.New(awsdynamodb.NewFromConfig(awsCfg), table)
		if err != nil {
			logger.Fatal("failed to create exchange store", zap.Error(err))
		}
		deps.Recorder = store
	}

	// ---- Handler ----
	svc, err := bootstrap.ForgeService(v, deps)
	if err != nil {
		logger.Fatal("failed to create forge service", zap.Error(err))
	}

	h, err := handler.NewHandler(svc, handler.WithLogger(logger), handler.WithBodyLimit(srvCfg.BodyLimit))
	if err != nil {
		logger.Fatal("failed to create handler", zap.Error(err))
	}

	logger.Info("forge lambda starting",
		zap.String("backend", v.GetString("backend")),
		zap.Bool("exchange_log", deps.Recorder != nil),
	)
	lambda.Start(h.Handle)
}

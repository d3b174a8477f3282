package main

import (
	"context"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"

	"salesdesk-agent/handler"
	"salesdesk-agent/internal/guard"
	"salesdesk-agent/internal/integrations/openai"
	"salesdesk-agent/internal/integrations/paramstore"
	"salesdesk-agent/internal/integrations/whatsapp"
	"salesdesk-agent/internal/repository"
	"salesdesk-agent/internal/state"
	"salesdesk-agent/internal/usecase"
)

func main() {
	ctx := context.Background()

	// ---- Configuration (read only here) ----
	escalationTable := mustEnv("ESCALATION_TABLE")
	paramPrefix := mustEnv("PARAM_PREFIX")
	verifyToken := mustEnv("VERIFY_TOKEN")
	rateQuota := envInt("RATE_QUOTA", guard.DefaultRateQuota)
	rateWindow := time.Duration(envInt("RATE_WINDOW_SECONDS", 60)) * time.Second
	dedupRetention := time.Duration(envInt("DEDUP_RETENTION_HOURS", 24)) * time.Hour
	generationBudget := time.Duration(envInt("GENERATION_TIMEOUT_SECONDS", 8)) * time.Second

	// ---- AWS SDK config ----
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		slog.Error("failed to load AWS config", "err", err)
		os.Exit(1)
	}

	// ---- Clients ----
	ssmClient, err := paramstore.New(awsssm.NewFromConfig(cfg))
	if err != nil {
		slog.Error("failed to create SSM client", "err", err)
		os.Exit(1)
	}
	escalations, err := repository.New(awsdynamodb.NewFromConfig(cfg), escalationTable)
	if err != nil {
		slog.Error("failed to create escalation recorder", "err", err)
		os.Exit(1)
	}
	openaiClient, err := openai.NewClient(ssmClient, paramPrefix)
	if err != nil {
		slog.Error("failed to create OpenAI client", "err", err)
		os.Exit(1)
	}
	sender, err := whatsapp.NewClient(ssmClient, paramPrefix)
	if err != nil {
		slog.Error("failed to create WhatsApp client", "err", err)
		os.Exit(1)
	}

	// ---- Pipeline ----
	generator, err := usecase.NewReplyGenerator(openaiClient, generationBudget)
	if err != nil {
		slog.Error("failed to create reply generator", "err", err)
		os.Exit(1)
	}
	orchestrator, err := usecase.NewOrchestrator(
		ssmClient,
		guard.NewWithLimits(dedupRetention, rateQuota, rateWindow),
		state.NewMemoryStore(),
		generator,
		sender,
		escalations,
		paramPrefix,
	)
	if err != nil {
		slog.Error("failed to create orchestrator", "err", err)
		os.Exit(1)
	}

	h, err := handler.NewHandler(orchestrator, verifyToken)
	if err != nil {
		slog.Error("failed to create handler", "err", err)
		os.Exit(1)
	}

	lambda.Start(h.Handle)
}

func mustEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		slog.Error("required environment variable is not set", "key", key)
		os.Exit(1)
	}
	return v
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

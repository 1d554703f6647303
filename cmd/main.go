package main

import (
	"context"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/config"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"

	"conversation-manager/handler"
	"conversation-manager/internal/integrations/paramstore"
	"conversation-manager/internal/repository"
	"conversation-manager/internal/usecase"
)

func main() {
	ctx := context.Background()

	// ---- Configuration (read only here) ----
	mongoURI := os.Getenv("MONGO_URI")
	mongoDatabase := os.Getenv("MONGO_DATABASE")
	paramPrefix := os.Getenv("PARAM_PREFIX")
	windowHours := envInt("SESSION_WINDOW_HOURS", 24)

	// When PARAM_PREFIX is set, the Mongo settings come from SSM Parameter
	// Store instead of the environment.
	if paramPrefix != "" {
		cfg, err := config.LoadDefaultConfig(ctx)
		if err != nil {
			slog.Error("failed to load AWS config", "err", err)
			os.Exit(1)
		}
		ssmClient, err := paramstore.New(awsssm.NewFromConfig(cfg))
		if err != nil {
			slog.Error("failed to create SSM client", "err", err)
			os.Exit(1)
		}
		settings, err := ssmClient.MongoSettings(ctx, paramPrefix)
		if err != nil {
			slog.Error("failed to load mongo settings", "err", err)
			os.Exit(1)
		}
		mongoURI = settings.URI
		mongoDatabase = settings.Database
	}
	if mongoURI == "" || mongoDatabase == "" {
		slog.Error("MONGO_URI and MONGO_DATABASE must be set (directly or via PARAM_PREFIX)")
		os.Exit(1)
	}

	// ---- Stores ----
	client, err := repository.Connect(ctx, mongoURI)
	if err != nil {
		slog.Error("failed to connect to mongodb", "err", err)
		os.Exit(1)
	}
	defer func() {
		if err := client.Disconnect(context.Background()); err != nil {
			slog.Error("failed to disconnect from mongodb", "err", err)
		}
	}()

	db := client.Database(mongoDatabase)
	conversations, err := repository.NewConversationStore(db.Collection(repository.ConversationCollection))
	if err != nil {
		slog.Error("failed to create conversation store", "err", err)
		os.Exit(1)
	}
	index, err := repository.NewTransmitterIndex(db.Collection(repository.TransmitterCollection))
	if err != nil {
		slog.Error("failed to create transmitter index", "err", err)
		os.Exit(1)
	}

	// ---- Engine + handler ----
	svc, err := usecase.NewSessionService(conversations, index, time.Duration(windowHours)*time.Hour)
	if err != nil {
		slog.Error("failed to create session service", "err", err)
		os.Exit(1)
	}
	h, err := handler.NewHandler(svc)
	if err != nil {
		slog.Error("failed to create handler", "err", err)
		os.Exit(1)
	}

	lambda.Start(h.Handle)
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

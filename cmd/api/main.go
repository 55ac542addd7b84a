package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/jun/securenotes/internal/app"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	application, err := app.NewApp(context.Background())
	if err != nil {
		slog.Error("failed to initialize", "err", err)
		os.Exit(1)
	}
	lambda.Start(application.HandleRequest)
}

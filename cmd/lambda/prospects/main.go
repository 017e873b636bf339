// Prospect file Lambda entry point, triggered by uploads to the prospect bucket
package main

import (
	"context"
	"log"

	"github.com/aws/aws-lambda-go/lambda"

	"fiscal-eligibility-engine/internal/app"
	"fiscal-eligibility-engine/internal/config"
	"fiscal-eligibility-engine/internal/handlers"
	"fiscal-eligibility-engine/internal/utils"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	_ = utils.InitLogger(cfg.LogLevel)
	defer utils.Sync()

	engine, err := app.New(context.Background(), cfg)
	if err != nil {
		panic("Failed to create handler: " + err.Error())
	}
	defer engine.Close()
	if engine.Files == nil {
		log.Fatal("PROSPECT_BUCKET is required")
	}

	handler := handlers.NewCSVProcessorHandler(engine.API.Prospects, engine.Files)
	lambda.Start(handler.Handle)
}

package main

import (
	"context"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	"github.com/imrishuroy/go-vehicle-orderflow/internal/aws"
	"github.com/imrishuroy/go-vehicle-orderflow/internal/config"
	"github.com/imrishuroy/go-vehicle-orderflow/internal/logging"
	"github.com/imrishuroy/go-vehicle-orderflow/internal/payments"
)

func main() {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		logging.Base().Error("load config", "error", err)
		os.Exit(1)
	}
	logger := logging.Init("settlement-worker", cfg.App.LogFile)

	clients, err := aws.NewAWSClients(context.Background(), aws.Settings{Region: cfg.AWS.Region, Endpoint: cfg.AWS.Endpoint})
	if err != nil {
		logger.Error("init aws clients", "error", err)
		os.Exit(1)
	}

	svc := payments.NewService(payments.NewStore(clients.DynamoDB, cfg.Tables.PaymentIntents), logger)
	p := NewProcessor(svc, logger)

	// Local testing helper: simulate one event from LOCAL_SQS_BODY.
	if cfg.App.RunLocal || os.Getenv("RUN_LOCAL") == "true" {
		body := os.Getenv("LOCAL_SQS_BODY")
		if body == "" {
			body = `{"paymentId":"local-payment-1","outcome":"succeeded"}`
		}
		ev := events.SQSEvent{Records: []events.SQSMessage{{MessageId: "local-1", Body: body}}}
		if err := p.Handle(context.Background(), ev); err != nil {
			logger.Error("local handler error", "error", err)
			os.Exit(1)
		}
		return
	}

	lambda.Start(p.Handle)
}

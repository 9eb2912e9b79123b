package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	ginadapter "github.com/awslabs/aws-lambda-go-api-proxy/gin"
	"github.com/gin-gonic/gin"

	"github.com/imrishuroy/go-vehicle-orderflow/internal/aws"
	"github.com/imrishuroy/go-vehicle-orderflow/internal/config"
	"github.com/imrishuroy/go-vehicle-orderflow/internal/handlers"
	"github.com/imrishuroy/go-vehicle-orderflow/internal/handlers/middleware"
	"github.com/imrishuroy/go-vehicle-orderflow/internal/idempotency"
	"github.com/imrishuroy/go-vehicle-orderflow/internal/logging"
	"github.com/imrishuroy/go-vehicle-orderflow/internal/orders"
	"github.com/imrishuroy/go-vehicle-orderflow/internal/payments"
)

func setupRouter(logger *slog.Logger, cfg handlers.HandlerConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestLogger(logger), middleware.Metrics())

	// health
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", middleware.MetricsHandler())

	handlers.RegisterOrdersRoutes(r, cfg)

	return r
}

func buildHandlerConfig(cfg config.Config, clients *aws.AWSClients, logger *slog.Logger) handlers.HandlerConfig {
	db := clients.DynamoDB
	paySvc := payments.NewService(payments.NewStore(db, cfg.Tables.PaymentIntents), logger)
	idem := idempotency.NewStore(db, cfg.Tables.Idempotency, cfg.Idempotency.TTL)

	deps := orders.Deps{
		DynamoDB:          db,
		Orders:            orders.NewStore(db, cfg.Tables.Orders, cfg.Tables.OrderNumbers),
		Items:             orders.NewItemStore(db, cfg.Tables.OrderItems),
		Payments:          paySvc,
		Idempotency:       idem,
		Metrics:           aws.NewMetrics(clients.CloudWatch, cfg.Metrics.Namespace, cfg.App.Name),
		Logger:            logger,
		MaxCreateAttempts: cfg.Orders.MaxCreateAttempts,
	}
	if cfg.Queues.OrderEvents != "" {
		deps.Events = aws.NewPublisher(clients.SQS, cfg.Queues.OrderEvents)
	} else {
		logger.Warn("queues.order_events not set, order events are disabled")
	}

	return handlers.HandlerConfig{
		Orders:      orders.NewService(deps),
		Payments:    paySvc,
		Idempotency: idem,
	}
}

func main() {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		logging.Base().Error("load config", "error", err)
		os.Exit(1)
	}
	logger := logging.Init(cfg.App.Name, cfg.App.LogFile)

	clients, err := aws.NewAWSClients(context.Background(), aws.Settings{Region: cfg.AWS.Region, Endpoint: cfg.AWS.Endpoint})
	if err != nil {
		logger.Error("failed to init aws clients", "error", err)
		os.Exit(1)
	}

	r := setupRouter(logger, buildHandlerConfig(cfg, clients, logger))

	if cfg.App.RunLocal || os.Getenv("RUN_LOCAL") == "true" {
		gin.SetMode(gin.DebugMode)
		logger.Info("running local server", "addr", cfg.App.HTTPAddr)
		if err := r.Run(cfg.App.HTTPAddr); err != nil {
			logger.Error("failed to run local server", "error", err)
			os.Exit(1)
		}
		return
	}

	gin.SetMode(gin.ReleaseMode)
	adapter := ginadapter.New(r)
	lambda.Start(func(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
		return adapter.ProxyWithContext(ctx, req)
	})
}

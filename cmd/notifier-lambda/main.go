package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	"release_notifier/internal/api"
	"release_notifier/internal/app"
	"release_notifier/internal/config"
)

type handler struct {
	trigger *api.Trigger
	logger  *slog.Logger
}

func (h *handler) handle(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	status, body := h.trigger.Invoke(ctx, authorizationHeader(req.Headers))

	data, err := json.Marshal(body)
	if err != nil {
		h.logger.Error("failed to encode response", "error", err)
		return events.APIGatewayProxyResponse{StatusCode: http.StatusInternalServerError}, nil
	}

	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       string(data),
	}, nil
}

// authorizationHeader looks the header up case-insensitively; API Gateway
// forwards header names as the client sent them.
func authorizationHeader(headers map[string]string) string {
	for k, v := range headers {
		if strings.EqualFold(k, "Authorization") {
			return v
		}
	}
	return ""
}

func main() {
	logger := app.NewLogger("info")

	cfg, err := config.LoadFromEnv()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger = app.NewLogger(cfg.LogLevel)

	// Connections are reused across warm invocations.
	a, err := app.New(context.Background(), cfg, logger)
	if err != nil {
		logger.Error("failed to initialize", "error", err)
		os.Exit(1)
	}

	h := &handler{
		trigger: api.NewTrigger(a.Runner, logger),
		logger:  logger,
	}
	lambda.Start(h.handle)
}

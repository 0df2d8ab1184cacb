// Command ddb-to-es is the Lambda function that mirrors the resource table's
// stream into the search index.
package main

import (
	"context"
	"net/http"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/elastic/go-elasticsearch/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/united-manufacturing-hub/umh-utils/env"
	"github.com/united-manufacturing-hub/umh-utils/logger"
	"go.uber.org/zap"

	"github.com/jacentio/versiondb/stream"
)

func main() {
	logLevel, _ := env.GetAsString("LOGGING_LEVEL", false, "PRODUCTION") //nolint:errcheck
	log := logger.New(logLevel)
	defer func() { _ = log.Sync() }()

	settings := loadSettings()
	if settings.Endpoint == "" {
		zap.S().Fatal("ELASTICSEARCH_DOMAIN_ENDPOINT is not set")
	}

	var transport http.RoundTripper
	if !settings.Offline {
		awsCfg, err := config.LoadDefaultConfig(context.Background())
		if err != nil {
			zap.S().Fatalf("failed to load AWS config: %v", err)
		}
		transport = stream.NewSigningTransport(nil, awsCfg.Credentials, awsCfg.Region)
	}

	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: []string{settings.Endpoint},
		Transport: transport,
	})
	if err != nil {
		zap.S().Fatalf("failed to create search client: %v", err)
	}

	handler, err := stream.NewHandler(stream.NewElasticsearchIndex(client), settings.Stream, log.Desugar())
	if err != nil {
		zap.S().Fatalf("failed to create sync handler: %v", err)
	}
	handler.SetMetrics(stream.NewMetrics(prometheus.DefaultRegisterer))

	zap.S().Infof("syncing to %s (hard delete: %t)", settings.Endpoint, settings.Stream.HardDelete)
	lambda.Start(handler.HandleDdbToEs)
}

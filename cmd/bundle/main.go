// Command bundle is the Lambda function that applies transaction bundles to
// the versioned resource table.
package main

import (
	"context"
	"net/http"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/united-manufacturing-hub/umh-utils/env"
	"github.com/united-manufacturing-hub/umh-utils/logger"
	"go.uber.org/zap"

	"github.com/jacentio/versiondb/store"
)

func main() {
	logLevel, _ := env.GetAsString("LOGGING_LEVEL", false, "PRODUCTION") //nolint:errcheck
	log := logger.New(logLevel)
	defer func() { _ = log.Sync() }()

	cfg := loadConfig()
	registry, err := loadRegistry()
	if err != nil {
		zap.S().Fatalf("failed to load versioned links: %v", err)
	}

	awsCfg, err := config.LoadDefaultConfig(context.Background())
	if err != nil {
		zap.S().Fatalf("failed to load AWS config: %v", err)
	}

	s := store.NewWithRegistry(dynamodb.NewFromConfig(awsCfg), cfg, registry)
	s.SetLogger(log.Desugar())
	s.SetMetrics(store.NewMetrics(prometheus.DefaultRegisterer))

	serveMetrics()

	zap.S().Infof("serving bundles for table %s", cfg.ResourceTable)
	lambda.Start(handler(s))
}

func handler(s *store.Store) func(context.Context, store.TransactionRequest) (store.BundleResponse, error) {
	return func(ctx context.Context, request store.TransactionRequest) (store.BundleResponse, error) {
		return s.Transaction(ctx, request), nil
	}
}

// serveMetrics exposes the Prometheus registry when METRICS_ADDR is set.
func serveMetrics() {
	addr, _ := env.GetAsString("METRICS_ADDR", false, "") //nolint:errcheck
	if addr == "" {
		return
	}
	go func() {
		/* #nosec G114 */
		if err := http.ListenAndServe(addr, promhttp.Handler()); err != nil {
			zap.S().Errorf("Error serving metrics: %s", err)
		}
	}()
}

package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/chris/p2p-escrow-ledger/pkg/config"
	"github.com/chris/p2p-escrow-ledger/pkg/logging"
	"github.com/chris/p2p-escrow-ledger/pkg/service"
	"github.com/joho/godotenv"
)

var svc *service.Service

func init() {
	// Load environment variables for local testing.
	godotenv.Load()

	cfg, err := config.Load(os.Getenv("ESCROW_CONFIG"))
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if cfg.Bridge.Driver != config.BridgeSQS {
		log.Fatal("reconciliation requires the sqs bridge")
	}

	svc, err = service.New(context.Background(), cfg, logging.NewLogger(cfg.LogLevel, cfg.ServiceName, cfg.Env), nil)
	if err != nil {
		log.Fatalf("failed to build service: %v", err)
	}
}

// HandleRequest is triggered by an EventBridge Schedule.
func HandleRequest(ctx context.Context) error {
	log.Printf("Starting reconciliation of payouts pending longer than %s...", svc.Config.Reconcile.Threshold)

	report, err := svc.Reconcile(ctx, time.Now())
	if err != nil {
		log.Printf("ERROR: reconciliation failed: %v", err)
		return err
	}

	if report.Releases+report.Withdrawals == 0 {
		log.Println("No stuck payouts found.")
		return nil
	}

	log.Printf("Re-enqueued %d releases and %d withdrawals, %d failed", report.Releases, report.Withdrawals, report.Failed)
	return nil
}

func main() {
	lambda.Start(HandleRequest)
}

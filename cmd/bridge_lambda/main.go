package main

import (
	"context"
	"log"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/chris/p2p-escrow-ledger/pkg/bridge"
	"github.com/chris/p2p-escrow-ledger/pkg/config"
	"github.com/chris/p2p-escrow-ledger/pkg/logging"
	"github.com/chris/p2p-escrow-ledger/pkg/service"
	"github.com/joho/godotenv"
)

var worker *bridge.Worker

func init() {
	// Load environment variables from .env file (useful for local testing).
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg, err := config.Load(os.Getenv("ESCROW_CONFIG"))
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if cfg.Custody.URL == "" {
		log.Fatal("ESCROW_CUSTODY_URL environment variable not set")
	}

	svc, err := service.New(context.Background(), cfg, logging.NewLogger(cfg.LogLevel, cfg.ServiceName, cfg.Env), nil)
	if err != nil {
		log.Fatalf("failed to build service: %v", err)
	}
	worker = svc.Worker
}

// HandleRequest executes queued token transfers and settles their holds.
// Messages that failed transiently are reported back so SQS redelivers only
// those; the request ID keeps the redelivery idempotent.
func HandleRequest(ctx context.Context, sqsEvent events.SQSEvent) (events.SQSEventResponse, error) {
	var resp events.SQSEventResponse
	for _, message := range sqsEvent.Records {
		log.Printf("Processing message %s", message.MessageId)

		req, err := bridge.DecodeRequest(message.Body)
		if err != nil {
			// A malformed body never becomes valid; drop it instead of retrying.
			log.Printf("ERROR: failed to decode transfer request from SQS message %s: %v", message.MessageId, err)
			continue
		}

		if err := worker.Process(ctx, req); err != nil {
			log.Printf("ERROR: failed to process transfer %s: %v", req.ID, err)
			resp.BatchItemFailures = append(resp.BatchItemFailures, events.SQSBatchItemFailure{ItemIdentifier: message.MessageId})
			continue
		}

		log.Printf("Successfully processed transfer %s (%s %s)", req.ID, req.Kind, req.Reference)
	}
	return resp, nil
}

func main() {
	lambda.Start(HandleRequest)
}

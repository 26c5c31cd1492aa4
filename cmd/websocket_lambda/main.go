package main

import (
	"context"
	"log"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/chris/p2p-escrow-ledger/pkg/config"
	"github.com/chris/p2p-escrow-ledger/pkg/handlers/websockets"
	"github.com/chris/p2p-escrow-ledger/pkg/logging"
	dydbstore "github.com/chris/p2p-escrow-ledger/pkg/storage/dynamodb"
	"github.com/joho/godotenv"
)

var handler *websockets.Handler

func init() {
	godotenv.Load()

	cfg, err := config.Load(os.Getenv("ESCROW_CONFIG"))
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.TODO())
	if err != nil {
		log.Fatalf("unable to load SDK config, %v", err)
	}

	// Only the connections table is touched here.
	store := dydbstore.NewFromConfig(dynamodb.NewFromConfig(awsCfg), cfg.DynamoDB)
	handler = websockets.NewHandler(store, nil, logging.NewLogger(cfg.LogLevel, cfg.ServiceName, cfg.Env))
}

func main() {
	lambda.Start(handler.HandleRequest)
}

package dynamodb

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/chris/p2p-escrow-ledger/pkg/config"
	"github.com/chris/p2p-escrow-ledger/pkg/storage"
)

// DynamoDBAPI is the subset of the DynamoDB client the store uses.
//go:generate go run github.com/vektra/mockery/v2 --name=DynamoDBAPI
type DynamoDBAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	TransactWriteItems(ctx context.Context, params *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
	BatchWriteItem(ctx context.Context, params *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error)
}

// Tables names the tables the store writes to.
//
// Accounts, Chats, Offers and Withdrawals are keyed by "id". Chats carries
// the owner-index and offerer-index GSIs. History and Registry are keyed by
// "pk" and "sk".
type Tables struct {
	Accounts    string
	Chats       string
	Offers      string
	Withdrawals string
	History     string
	Registry    string
	Connections string
}

// Store implements the Storage interface using AWS DynamoDB.
type Store struct {
	Client DynamoDBAPI
	Tables Tables
}

// New creates a new Store.
func New(client DynamoDBAPI, tables Tables) *Store {
	return &Store{Client: client, Tables: tables}
}

// Make sure we conform to the interface
var (
	_ storage.Storage          = (*Store)(nil)
	_ storage.WebSocketManager = (*Store)(nil)
)

// NewFromConfig builds a store over the configured table names.
func NewFromConfig(client DynamoDBAPI, cfg config.DynamoDBConfig) *Store {
	return New(client, Tables{
		Accounts:    cfg.AccountsTable,
		Chats:       cfg.ChatsTable,
		Offers:      cfg.OffersTable,
		Withdrawals: cfg.WithdrawalsTable,
		History:     cfg.HistoryTable,
		Registry:    cfg.RegistryTable,
		Connections: cfg.ConnectionsTable,
	})
}

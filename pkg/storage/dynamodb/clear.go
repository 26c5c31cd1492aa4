package dynamodb

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// batchWriteLimit is the DynamoDB limit for one BatchWriteItem call.
const batchWriteLimit = 25

// maxBatchRetries bounds the resubmission of unprocessed deletes.
const maxBatchRetries = 5

func (s *Store) ClearChats(ctx context.Context) (int, error) {
	return s.clearTable(ctx, s.Tables.Chats)
}

func (s *Store) ClearOffers(ctx context.Context) (int, error) {
	return s.clearTable(ctx, s.Tables.Offers)
}

// clearTable deletes every item of an id-keyed table and returns the count.
func (s *Store) clearTable(ctx context.Context, table string) (int, error) {
	var keys []struct {
		ID string `dynamodbav:"id"`
	}
	err := s.scanAll(ctx, &dynamodb.ScanInput{
		TableName:            aws.String(table),
		ProjectionExpression: aws.String("id"),
	}, &keys)
	if err != nil {
		return 0, fmt.Errorf("failed to scan %s: %w", table, err)
	}

	deleted := 0
	for start := 0; start < len(keys); start += batchWriteLimit {
		end := min(start+batchWriteLimit, len(keys))
		requests := make([]types.WriteRequest, 0, end-start)
		for _, k := range keys[start:end] {
			requests = append(requests, types.WriteRequest{
				DeleteRequest: &types.DeleteRequest{Key: stringKey("id", k.ID)},
			})
		}
		if err := s.batchWrite(ctx, table, requests); err != nil {
			return deleted, err
		}
		deleted += len(requests)
	}
	return deleted, nil
}

func (s *Store) batchWrite(ctx context.Context, table string, requests []types.WriteRequest) error {
	pending := map[string][]types.WriteRequest{table: requests}
	for attempt := 0; attempt < maxBatchRetries && len(pending[table]) > 0; attempt++ {
		out, err := s.Client.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{RequestItems: pending})
		if err != nil {
			return fmt.Errorf("failed to batch delete from %s: %w", table, err)
		}
		pending = out.UnprocessedItems
	}
	if n := len(pending[table]); n > 0 {
		return fmt.Errorf("%d deletes from %s left unprocessed", n, table)
	}
	return nil
}

package dynamodb

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/chris/p2p-escrow-ledger/pkg/storage"
)

// maxTransactItems is the DynamoDB limit for one TransactWriteItems call.
const maxTransactItems = 100

// Commit writes the whole set in one TransactWriteItems call. Every versioned
// record is conditioned on the version it was read at, so a lost race
// cancels the transaction and nothing is written.
func (s *Store) Commit(ctx context.Context, ws *storage.WriteSet) error {
	if ws.Empty() {
		return nil
	}
	items, err := s.transactItems(ws)
	if err != nil {
		return err
	}
	if len(items) > maxTransactItems {
		return fmt.Errorf("write set has %d items, limit is %d", len(items), maxTransactItems)
	}

	_, err = s.Client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: items})
	if err != nil {
		var tce *types.TransactionCanceledException
		if errors.As(err, &tce) {
			for _, reason := range tce.CancellationReasons {
				if aws.ToString(reason.Code) == "ConditionalCheckFailed" {
					return fmt.Errorf("failed to execute transaction: %w", storage.ErrConcurrentModification)
				}
			}
		}
		return fmt.Errorf("failed to execute transaction: %w", err)
	}

	ws.BumpVersions()
	return nil
}

func (s *Store) transactItems(ws *storage.WriteSet) ([]types.TransactWriteItem, error) {
	var items []types.TransactWriteItem

	for _, a := range ws.Accounts {
		next := a.Clone()
		next.Version++
		item, err := versionedPut(s.Tables.Accounts, "id", next, a.Version)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal account %s: %w", a.ID, err)
		}
		items = append(items, item)
	}
	for _, c := range ws.Chats {
		next := *c
		next.Version++
		item, err := versionedPut(s.Tables.Chats, "id", next, c.Version)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal chat %s: %w", c.ID, err)
		}
		items = append(items, item)
	}
	for _, o := range ws.Offers {
		next := *o
		next.Version++
		item, err := versionedPut(s.Tables.Offers, "id", next, o.Version)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal offer %s: %w", o.ID, err)
		}
		items = append(items, item)
	}
	for _, w := range ws.Withdrawals {
		next := *w
		next.Version++
		item, err := versionedPut(s.Tables.Withdrawals, "id", next, w.Version)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal withdrawal %s: %w", w.ID, err)
		}
		items = append(items, item)
	}
	if ws.Totals != nil {
		rec := totalsRecord{PK: revenuePartition, SK: totalsSortKey, RevenueTotals: *ws.Totals}
		rec.Version++
		item, err := versionedPut(s.Tables.History, "pk", rec, ws.Totals.Version)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal revenue totals: %w", err)
		}
		items = append(items, item)
	}

	var history []historyRecord
	for _, r := range ws.Revenues {
		history = append(history, revenueRecord(r))
	}
	for _, t := range ws.Transfers {
		history = append(history, transferRecords(t)...)
	}
	for _, t := range ws.Trades {
		history = append(history, tradeRecords(t)...)
	}
	for _, h := range history {
		av, err := attributevalue.MarshalMap(h)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal history record %s: %w", h.SK, err)
		}
		items = append(items, types.TransactWriteItem{Put: &types.Put{
			TableName:           aws.String(s.Tables.History),
			Item:                av,
			ConditionExpression: aws.String("attribute_not_exists(pk)"),
		}})
	}

	for i := range ws.Tokens {
		av, err := attributevalue.MarshalMap(registryRecord{PK: tokenPartition, SK: ws.Tokens[i].Address, Token: &ws.Tokens[i]})
		if err != nil {
			return nil, fmt.Errorf("failed to marshal token %s: %w", ws.Tokens[i].Address, err)
		}
		items = append(items, types.TransactWriteItem{Put: &types.Put{TableName: aws.String(s.Tables.Registry), Item: av}})
	}
	for i := range ws.PaymentMethods {
		av, err := attributevalue.MarshalMap(registryRecord{PK: paymentPartition, SK: ws.PaymentMethods[i].Name, PaymentMethod: &ws.PaymentMethods[i]})
		if err != nil {
			return nil, fmt.Errorf("failed to marshal payment method %s: %w", ws.PaymentMethods[i].Name, err)
		}
		items = append(items, types.TransactWriteItem{Put: &types.Put{TableName: aws.String(s.Tables.Registry), Item: av}})
	}
	for _, addr := range ws.DeleteTokens {
		items = append(items, types.TransactWriteItem{Delete: &types.Delete{
			TableName: aws.String(s.Tables.Registry),
			Key:       compositeKey(tokenPartition, addr),
		}})
	}
	for _, name := range ws.DeletePaymentMethods {
		items = append(items, types.TransactWriteItem{Delete: &types.Delete{
			TableName: aws.String(s.Tables.Registry),
			Key:       compositeKey(paymentPartition, name),
		}})
	}
	return items, nil
}

// versionedPut writes record if the stored version still equals expected.
// Version 0 means the record must not exist yet.
func versionedPut(table, keyAttr string, record any, expected int64) (types.TransactWriteItem, error) {
	av, err := attributevalue.MarshalMap(record)
	if err != nil {
		return types.TransactWriteItem{}, err
	}
	put := &types.Put{TableName: aws.String(table), Item: av}
	if expected == 0 {
		put.ConditionExpression = aws.String(fmt.Sprintf("attribute_not_exists(%s)", keyAttr))
	} else {
		put.ConditionExpression = aws.String("version = :version")
		put.ExpressionAttributeValues = map[string]types.AttributeValue{
			":version": &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", expected)},
		}
	}
	return types.TransactWriteItem{Put: put}, nil
}

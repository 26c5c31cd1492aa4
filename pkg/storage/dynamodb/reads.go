package dynamodb

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/chris/p2p-escrow-ledger/pkg/ledger"
	"github.com/chris/p2p-escrow-ledger/pkg/models"
	"github.com/chris/p2p-escrow-ledger/pkg/storage"
)

// getItem loads one item into out and reports whether it existed.
func (s *Store) getItem(ctx context.Context, table string, key map[string]types.AttributeValue, out any) (bool, error) {
	result, err := s.Client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(table),
		Key:            key,
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return false, err
	}
	if result.Item == nil {
		return false, nil
	}
	if err := attributevalue.UnmarshalMap(result.Item, out); err != nil {
		return false, fmt.Errorf("failed to unmarshal item: %w", err)
	}
	return true, nil
}

// queryAll follows LastEvaluatedKey until the result set is exhausted.
func (s *Store) queryAll(ctx context.Context, input *dynamodb.QueryInput, out any) error {
	var items []map[string]types.AttributeValue
	for {
		page, err := s.Client.Query(ctx, input)
		if err != nil {
			return err
		}
		items = append(items, page.Items...)
		if len(page.LastEvaluatedKey) == 0 {
			break
		}
		next := *input
		next.ExclusiveStartKey = page.LastEvaluatedKey
		input = &next
	}
	return attributevalue.UnmarshalListOfMaps(items, out)
}

func (s *Store) scanAll(ctx context.Context, input *dynamodb.ScanInput, out any) error {
	var items []map[string]types.AttributeValue
	for {
		page, err := s.Client.Scan(ctx, input)
		if err != nil {
			return err
		}
		items = append(items, page.Items...)
		if len(page.LastEvaluatedKey) == 0 {
			break
		}
		next := *input
		next.ExclusiveStartKey = page.LastEvaluatedKey
		input = &next
	}
	return attributevalue.UnmarshalListOfMaps(items, out)
}

func (s *Store) GetAccount(ctx context.Context, id string) (*ledger.Account, error) {
	var acc ledger.Account
	found, err := s.getItem(ctx, s.Tables.Accounts, stringKey("id", id), &acc)
	if err != nil {
		return nil, fmt.Errorf("failed to get account from DynamoDB: %w", err)
	}
	if !found {
		return nil, fmt.Errorf("account %s: %w", id, storage.ErrNotFound)
	}
	return &acc, nil
}

func (s *Store) ListAccounts(ctx context.Context) ([]ledger.Account, error) {
	accounts := []ledger.Account{}
	if err := s.scanAll(ctx, &dynamodb.ScanInput{TableName: aws.String(s.Tables.Accounts)}, &accounts); err != nil {
		return nil, fmt.Errorf("failed to scan accounts table: %w", err)
	}
	sort.Slice(accounts, func(i, j int) bool { return accounts[i].ID < accounts[j].ID })
	return accounts, nil
}

func (s *Store) GetChat(ctx context.Context, id string) (*models.Chat, error) {
	var chat models.Chat
	found, err := s.getItem(ctx, s.Tables.Chats, stringKey("id", id), &chat)
	if err != nil {
		return nil, fmt.Errorf("failed to get chat from DynamoDB: %w", err)
	}
	if !found {
		return nil, fmt.Errorf("chat %s: %w", id, storage.ErrNotFound)
	}
	return &chat, nil
}

func (s *Store) ListChats(ctx context.Context) ([]models.Chat, error) {
	chats := []models.Chat{}
	if err := s.scanAll(ctx, &dynamodb.ScanInput{TableName: aws.String(s.Tables.Chats)}, &chats); err != nil {
		return nil, fmt.Errorf("failed to scan chats table: %w", err)
	}
	sortChats(chats)
	return chats, nil
}

// ListChatsByAccount merges the owner-index and offerer-index results.
func (s *Store) ListChatsByAccount(ctx context.Context, accountID string) ([]models.Chat, error) {
	seen := map[string]bool{}
	chats := []models.Chat{}
	for _, idx := range []struct{ index, attr string }{{ownerIndex, "owner"}, {offererIndex, "offerer"}} {
		var page []models.Chat
		err := s.queryAll(ctx, &dynamodb.QueryInput{
			TableName:              aws.String(s.Tables.Chats),
			IndexName:              aws.String(idx.index),
			KeyConditionExpression: aws.String("#attr = :account"),
			ExpressionAttributeNames: map[string]string{
				"#attr": idx.attr,
			},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":account": &types.AttributeValueMemberS{Value: accountID},
			},
		}, &page)
		if err != nil {
			return nil, fmt.Errorf("failed to query chats by %s: %w", idx.attr, err)
		}
		for _, c := range page {
			if !seen[c.ID] {
				seen[c.ID] = true
				chats = append(chats, c)
			}
		}
	}
	sortChats(chats)
	return chats, nil
}

// ListPendingReleases scans for parked token payouts. The cutoff is applied
// after unmarshaling since timestamps are stored as text.
func (s *Store) ListPendingReleases(ctx context.Context, before time.Time) ([]models.Chat, error) {
	var candidates []models.Chat
	err := s.scanAll(ctx, &dynamodb.ScanInput{
		TableName:        aws.String(s.Tables.Chats),
		FilterExpression: aws.String("released = :true AND active = :true AND attribute_exists(pending_transfer_id)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":true": &types.AttributeValueMemberBOOL{Value: true},
		},
	}, &candidates)
	if err != nil {
		return nil, fmt.Errorf("failed to scan for pending releases: %w", err)
	}

	chats := []models.Chat{}
	for _, c := range candidates {
		if c.ReleasePending() && c.PendingSince != nil && c.PendingSince.Before(before) {
			chats = append(chats, c)
		}
	}
	sortChats(chats)
	return chats, nil
}

func sortChats(chats []models.Chat) {
	sort.Slice(chats, func(i, j int) bool {
		if chats[i].CreatedOn.Equal(chats[j].CreatedOn) {
			return chats[i].ID < chats[j].ID
		}
		return chats[i].CreatedOn.Before(chats[j].CreatedOn)
	})
}

func (s *Store) GetOffer(ctx context.Context, id string) (*models.Offer, error) {
	var offer models.Offer
	found, err := s.getItem(ctx, s.Tables.Offers, stringKey("id", id), &offer)
	if err != nil {
		return nil, fmt.Errorf("failed to get offer from DynamoDB: %w", err)
	}
	if !found {
		return nil, fmt.Errorf("offer %s: %w", id, storage.ErrNotFound)
	}
	return &offer, nil
}

func (s *Store) ListOffers(ctx context.Context) ([]models.Offer, error) {
	offers := []models.Offer{}
	if err := s.scanAll(ctx, &dynamodb.ScanInput{TableName: aws.String(s.Tables.Offers)}, &offers); err != nil {
		return nil, fmt.Errorf("failed to scan offers table: %w", err)
	}
	sort.Slice(offers, func(i, j int) bool {
		if offers[i].CreatedOn.Equal(offers[j].CreatedOn) {
			return offers[i].ID < offers[j].ID
		}
		return offers[i].CreatedOn.Before(offers[j].CreatedOn)
	})
	return offers, nil
}

func (s *Store) GetWithdrawal(ctx context.Context, id string) (*models.Withdrawal, error) {
	var w models.Withdrawal
	found, err := s.getItem(ctx, s.Tables.Withdrawals, stringKey("id", id), &w)
	if err != nil {
		return nil, fmt.Errorf("failed to get withdrawal from DynamoDB: %w", err)
	}
	if !found {
		return nil, fmt.Errorf("withdrawal %s: %w", id, storage.ErrNotFound)
	}
	return &w, nil
}

func (s *Store) ListPendingWithdrawals(ctx context.Context, before time.Time) ([]models.Withdrawal, error) {
	var candidates []models.Withdrawal
	err := s.scanAll(ctx, &dynamodb.ScanInput{
		TableName:        aws.String(s.Tables.Withdrawals),
		FilterExpression: aws.String("#status = :pending"),
		ExpressionAttributeNames: map[string]string{
			"#status": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pending": &types.AttributeValueMemberS{Value: string(models.WithdrawalPending)},
		},
	}, &candidates)
	if err != nil {
		return nil, fmt.Errorf("failed to scan for pending withdrawals: %w", err)
	}

	out := []models.Withdrawal{}
	for _, w := range candidates {
		if w.UpdatedAt.Before(before) {
			out = append(out, w)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) queryHistory(ctx context.Context, pk, prefix string) ([]historyRecord, error) {
	var records []historyRecord
	err := s.queryAll(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.Tables.History),
		KeyConditionExpression: aws.String("pk = :pk AND begins_with(sk, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: pk},
			":prefix": &types.AttributeValueMemberS{Value: prefix},
		},
	}, &records)
	return records, err
}

func (s *Store) ListTransfersByAccount(ctx context.Context, accountID string) ([]models.Transfer, error) {
	records, err := s.queryHistory(ctx, accountPartition+accountID, transferPrefix)
	if err != nil {
		return nil, fmt.Errorf("failed to query transfers: %w", err)
	}
	out := []models.Transfer{}
	for _, r := range records {
		if r.Transfer != nil {
			out = append(out, *r.Transfer)
		}
	}
	return out, nil
}

func (s *Store) ListTradesByAccount(ctx context.Context, accountID string) ([]models.Trade, error) {
	records, err := s.queryHistory(ctx, accountPartition+accountID, tradePrefix)
	if err != nil {
		return nil, fmt.Errorf("failed to query trades: %w", err)
	}
	out := []models.Trade{}
	for _, r := range records {
		if r.Trade != nil {
			out = append(out, *r.Trade)
		}
	}
	return out, nil
}

func (s *Store) ListRevenue(ctx context.Context) ([]models.Revenue, error) {
	records, err := s.queryHistory(ctx, revenuePartition, revenuePrefix)
	if err != nil {
		return nil, fmt.Errorf("failed to query revenue: %w", err)
	}
	out := []models.Revenue{}
	for _, r := range records {
		if r.Revenue != nil {
			out = append(out, *r.Revenue)
		}
	}
	return out, nil
}

func (s *Store) GetRevenueTotals(ctx context.Context) (*models.RevenueTotals, error) {
	var rec totalsRecord
	if _, err := s.getItem(ctx, s.Tables.History, compositeKey(revenuePartition, totalsSortKey), &rec); err != nil {
		return nil, fmt.Errorf("failed to get revenue totals: %w", err)
	}
	return &rec.RevenueTotals, nil
}

func (s *Store) GetToken(ctx context.Context, address string) (*models.TokenMetadata, error) {
	var rec registryRecord
	found, err := s.getItem(ctx, s.Tables.Registry, compositeKey(tokenPartition, address), &rec)
	if err != nil {
		return nil, fmt.Errorf("failed to get token from DynamoDB: %w", err)
	}
	if !found || rec.Token == nil {
		return nil, fmt.Errorf("token %s: %w", address, storage.ErrNotFound)
	}
	return rec.Token, nil
}

func (s *Store) ListTokens(ctx context.Context) ([]models.TokenMetadata, error) {
	records, err := s.queryRegistry(ctx, tokenPartition)
	if err != nil {
		return nil, fmt.Errorf("failed to query tokens: %w", err)
	}
	out := []models.TokenMetadata{}
	for _, r := range records {
		if r.Token != nil {
			out = append(out, *r.Token)
		}
	}
	return out, nil
}

func (s *Store) GetPaymentMethod(ctx context.Context, name string) (*models.PaymentMethod, error) {
	var rec registryRecord
	found, err := s.getItem(ctx, s.Tables.Registry, compositeKey(paymentPartition, name), &rec)
	if err != nil {
		return nil, fmt.Errorf("failed to get payment method from DynamoDB: %w", err)
	}
	if !found || rec.PaymentMethod == nil {
		return nil, fmt.Errorf("payment method %s: %w", name, storage.ErrNotFound)
	}
	return rec.PaymentMethod, nil
}

func (s *Store) ListPaymentMethods(ctx context.Context) ([]models.PaymentMethod, error) {
	records, err := s.queryRegistry(ctx, paymentPartition)
	if err != nil {
		return nil, fmt.Errorf("failed to query payment methods: %w", err)
	}
	out := []models.PaymentMethod{}
	for _, r := range records {
		if r.PaymentMethod != nil {
			out = append(out, *r.PaymentMethod)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Store) queryRegistry(ctx context.Context, pk string) ([]registryRecord, error) {
	var records []registryRecord
	err := s.queryAll(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.Tables.Registry),
		KeyConditionExpression: aws.String("pk = :pk"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{Value: pk},
		},
	}, &records)
	return records, err
}

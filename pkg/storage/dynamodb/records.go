package dynamodb

import (
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/chris/p2p-escrow-ledger/pkg/models"
)

// History table layout. Transfers and trades are written once per
// participant so both sides can query them by partition.
const (
	accountPartition = "ACCOUNT#"
	revenuePartition = "REVENUE"
	totalsSortKey    = "TOTALS"

	transferPrefix = "TRANSFER#"
	tradePrefix    = "TRADE#"
	revenuePrefix  = "ENTRY#"
)

// Registry table partitions.
const (
	tokenPartition   = "TOKEN"
	paymentPartition = "PAYMENT"
)

const (
	ownerIndex   = "owner-index"
	offererIndex = "offerer-index"
)

// sortTime is fixed width so sort keys order by time.
const sortTime = "2006-01-02T15:04:05.000000000Z"

type historyRecord struct {
	PK       string           `dynamodbav:"pk"`
	SK       string           `dynamodbav:"sk"`
	Transfer *models.Transfer `dynamodbav:"transfer,omitempty"`
	Trade    *models.Trade    `dynamodbav:"trade,omitempty"`
	Revenue  *models.Revenue  `dynamodbav:"revenue,omitempty"`
}

type totalsRecord struct {
	PK string `dynamodbav:"pk"`
	SK string `dynamodbav:"sk"`
	models.RevenueTotals
}

type registryRecord struct {
	PK            string                `dynamodbav:"pk"`
	SK            string                `dynamodbav:"sk"`
	Token         *models.TokenMetadata `dynamodbav:"token,omitempty"`
	PaymentMethod *models.PaymentMethod `dynamodbav:"payment_method,omitempty"`
}

func sortKey(prefix string, at time.Time, id string) string {
	return prefix + at.UTC().Format(sortTime) + "#" + id
}

func stringKey(name, value string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{name: &types.AttributeValueMemberS{Value: value}}
}

func compositeKey(pk, sk string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"pk": &types.AttributeValueMemberS{Value: pk},
		"sk": &types.AttributeValueMemberS{Value: sk},
	}
}

// transferRecords returns one history row per distinct participant.
func transferRecords(t models.Transfer) []historyRecord {
	out := []historyRecord{{PK: accountPartition + t.Sender, SK: sortKey(transferPrefix, t.Timestamp, t.ID), Transfer: &t}}
	if t.Receiver != t.Sender {
		out = append(out, historyRecord{PK: accountPartition + t.Receiver, SK: sortKey(transferPrefix, t.Timestamp, t.ID), Transfer: &t})
	}
	return out
}

func tradeRecords(t models.Trade) []historyRecord {
	out := []historyRecord{{PK: accountPartition + t.Seller, SK: sortKey(tradePrefix, t.EndedAt, t.ID), Trade: &t}}
	if t.Buyer != t.Seller {
		out = append(out, historyRecord{PK: accountPartition + t.Buyer, SK: sortKey(tradePrefix, t.EndedAt, t.ID), Trade: &t})
	}
	return out
}

func revenueRecord(r models.Revenue) historyRecord {
	return historyRecord{PK: revenuePartition, SK: sortKey(revenuePrefix, r.Date, r.ID), Revenue: &r}
}

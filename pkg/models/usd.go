package models

import (
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/shopspring/decimal"
)

// USD is a dollar figure reported next to native fees. Totals are summed in
// decimal so repeated bookings do not drift.
type USD struct {
	d decimal.Decimal
}

func NewUSD(v float64) USD { return USD{d: decimal.NewFromFloat(v)} }

// ParseUSD parses a decimal string such as "1.25".
func ParseUSD(s string) (USD, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return USD{}, fmt.Errorf("invalid usd value %q: %w", s, err)
	}
	return USD{d: d}, nil
}

func MustParseUSD(s string) USD {
	u, err := ParseUSD(s)
	if err != nil {
		panic(err)
	}
	return u
}

func (u USD) Add(v USD) USD { return USD{d: u.d.Add(v.d)} }

func (u USD) Equal(v USD) bool { return u.d.Equal(v.d) }

func (u USD) IsZero() bool { return u.d.IsZero() }

func (u USD) String() string { return u.d.String() }

func (u USD) Decimal() decimal.Decimal { return u.d }

func (u USD) MarshalJSON() ([]byte, error) { return u.d.MarshalJSON() }

func (u *USD) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*u = USD{}
		return nil
	}
	return u.d.UnmarshalJSON(data)
}

// MarshalDynamoDBAttributeValue stores dollars as a DynamoDB number.
func (u USD) MarshalDynamoDBAttributeValue() (types.AttributeValue, error) {
	return &types.AttributeValueMemberN{Value: u.d.String()}, nil
}

func (u *USD) UnmarshalDynamoDBAttributeValue(av types.AttributeValue) error {
	var raw string
	switch v := av.(type) {
	case *types.AttributeValueMemberN:
		raw = v.Value
	case *types.AttributeValueMemberS:
		raw = v.Value
	case *types.AttributeValueMemberNULL:
		*u = USD{}
		return nil
	default:
		return fmt.Errorf("invalid usd value: unsupported attribute type %T", av)
	}
	parsed, err := ParseUSD(raw)
	if err != nil {
		return err
	}
	*u = parsed
	return nil
}

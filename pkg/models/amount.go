package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

// maxAmountBits bounds externally supplied amounts to u128. Arithmetic runs in
// 256 bits so adding any realistic number of valid amounts cannot wrap.
const maxAmountBits = 128

var (
	// ErrInvalidAmount is returned when an amount cannot be parsed or is out of range.
	ErrInvalidAmount = errors.New("invalid amount")
	// ErrAmountOverflow is returned when a stored balance would exceed 128 bits.
	ErrAmountOverflow = errors.New("amount overflow")
)

// Amount is an unsigned quantity of an asset expressed in its smallest unit.
// The zero value is a valid zero amount.
type Amount struct {
	v uint256.Int
}

// NewAmount returns an Amount holding n.
func NewAmount(n uint64) Amount {
	var a Amount
	a.v.SetUint64(n)
	return a
}

// ParseAmount parses a base-10 integer string.
func ParseAmount(s string) (Amount, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Amount{}, fmt.Errorf("%w: empty", ErrInvalidAmount)
	}
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return Amount{}, fmt.Errorf("%w: %q: %v", ErrInvalidAmount, s, err)
	}
	if v.BitLen() > maxAmountBits {
		return Amount{}, fmt.Errorf("%w: %q exceeds 128 bits", ErrInvalidAmount, s)
	}
	return Amount{v: *v}, nil
}

// MustParseAmount is ParseAmount for constants and tests.
func MustParseAmount(s string) Amount {
	a, err := ParseAmount(s)
	if err != nil {
		panic(err)
	}
	return a
}

// AmountFromBig converts a non-negative big.Int.
func AmountFromBig(b *big.Int) (Amount, error) {
	if b == nil || b.Sign() < 0 {
		return Amount{}, fmt.Errorf("%w: negative", ErrInvalidAmount)
	}
	v, overflow := uint256.FromBig(b)
	if overflow {
		return Amount{}, fmt.Errorf("%w: overflow", ErrInvalidAmount)
	}
	return Amount{v: *v}, nil
}

// Add returns a+b in 256 bits. Use AddChecked for anything that is persisted.
func (a Amount) Add(b Amount) Amount {
	var r Amount
	r.v.Add(&a.v, &b.v)
	return r
}

// AddChecked returns a+b, or ErrAmountOverflow when the sum no longer fits
// the 128 bits ParseAmount accepts.
func (a Amount) AddChecked(b Amount) (Amount, error) {
	r := a.Add(b)
	if r.v.BitLen() > maxAmountBits {
		return Amount{}, fmt.Errorf("%w: %s + %s exceeds 128 bits", ErrAmountOverflow, a, b)
	}
	return r, nil
}

// Sub returns a-b and false when b exceeds a.
func (a Amount) Sub(b Amount) (Amount, bool) {
	if a.v.Lt(&b.v) {
		return Amount{}, false
	}
	var r Amount
	r.v.Sub(&a.v, &b.v)
	return r, true
}

func (a Amount) Cmp(b Amount) int { return a.v.Cmp(&b.v) }

func (a Amount) Lt(b Amount) bool { return a.v.Lt(&b.v) }

func (a Amount) IsZero() bool { return a.v.IsZero() }

func (a Amount) String() string { return a.v.Dec() }

func (a Amount) Big() *big.Int { return a.v.ToBig() }

// Decimal returns the amount as an integral decimal.
func (a Amount) Decimal() decimal.Decimal {
	return decimal.NewFromBigInt(a.v.ToBig(), 0)
}

// MulRate returns floor(rate * a). Non-positive rates yield zero.
func (a Amount) MulRate(rate decimal.Decimal) Amount {
	if rate.Sign() <= 0 {
		return Amount{}
	}
	product := a.Decimal().Mul(rate).Floor()
	r, err := AmountFromBig(product.BigInt())
	if err != nil {
		return Amount{}
	}
	return r
}

func (a Amount) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

// UnmarshalJSON accepts either a quoted decimal string or a bare integer.
func (a *Amount) UnmarshalJSON(data []byte) error {
	raw := strings.Trim(string(data), `"`)
	if raw == "null" {
		*a = Amount{}
		return nil
	}
	parsed, err := ParseAmount(raw)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// MarshalDynamoDBAttributeValue stores amounts as strings; u128 does not fit
// the 38 digit precision of DynamoDB numbers.
func (a Amount) MarshalDynamoDBAttributeValue() (types.AttributeValue, error) {
	return &types.AttributeValueMemberS{Value: a.String()}, nil
}

func (a *Amount) UnmarshalDynamoDBAttributeValue(av types.AttributeValue) error {
	switch v := av.(type) {
	case *types.AttributeValueMemberS:
		parsed, err := ParseAmount(v.Value)
		if err != nil {
			return err
		}
		*a = parsed
	case *types.AttributeValueMemberN:
		parsed, err := ParseAmount(v.Value)
		if err != nil {
			return err
		}
		*a = parsed
	case *types.AttributeValueMemberNULL:
		*a = Amount{}
	default:
		return fmt.Errorf("%w: unsupported attribute type %T", ErrInvalidAmount, av)
	}
	return nil
}

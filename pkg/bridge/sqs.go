package bridge

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

// SQSAPI is the part of the SQS client the bridge uses.
//go:generate go run github.com/vektra/mockery/v2 --name=SQSAPI
type SQSAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// SQSBridge implements Bridge by enqueueing requests for the bridge lambda.
type SQSBridge struct {
	Client   SQSAPI
	QueueURL string
}

// NewSQSBridge creates a new SQSBridge.
func NewSQSBridge(client SQSAPI, queueURL string) *SQSBridge {
	return &SQSBridge{
		Client:   client,
		QueueURL: queueURL,
	}
}

// Make sure we conform to the interface
var _ Bridge = (*SQSBridge)(nil)

// Send enqueues the request as a JSON message body.
func (b *SQSBridge) Send(ctx context.Context, req TransferRequest) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal transfer request for SQS: %w", err)
	}

	_, err = b.Client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(b.QueueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"kind": {DataType: aws.String("String"), StringValue: aws.String(string(req.Kind))},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to send message to SQS: %w", err)
	}

	return nil
}

// DecodeRequest parses a message body produced by Send.
func DecodeRequest(body string) (TransferRequest, error) {
	var req TransferRequest
	if err := json.Unmarshal([]byte(body), &req); err != nil {
		return TransferRequest{}, fmt.Errorf("failed to unmarshal transfer request: %w", err)
	}
	if req.ID == "" || req.Reference == "" {
		return TransferRequest{}, fmt.Errorf("transfer request missing id or reference")
	}
	return req, nil
}

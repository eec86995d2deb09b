// Copyright 2025 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/sqs"
	"github.com/aws/aws-sdk-go/service/sqs/sqsiface"
)

const (
	// SQS caps long polling at 20 seconds and batches at 10 messages
	sqsMaxWaitSeconds = 20
	sqsMaxMessages    = 10

	sqsStringType = "String"
)

// SQS is a channel backed by an Amazon SQS queue
type SQS struct {
	client   sqsiface.SQSAPI
	queueURL string
}

// NewSQSFromRegion creates an SQS client for region and looks up the queue
func NewSQSFromRegion(ctx context.Context, region string, name string) (*SQS, error) {
	sess, err := session.NewSession(
		&aws.Config{
			Region: aws.String(region),
		},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}
	return NewSQS(ctx, sqs.New(sess), name)
}

func NewSQS(ctx context.Context, client sqsiface.SQSAPI, name string) (*SQS, error) {
	out, err := client.GetQueueUrlWithContext(
		ctx,
		&sqs.GetQueueUrlInput{
			QueueName: aws.String(name),
		},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to look up queue %s: %w", name, err)
	}
	return &SQS{
		client:   client,
		queueURL: aws.StringValue(out.QueueUrl),
	}, nil
}

func (s *SQS) Publish(ctx context.Context, body string, attributes map[string]string) error {
	attrs := make(map[string]*sqs.MessageAttributeValue, len(attributes))
	for k, v := range attributes {
		attrs[k] = &sqs.MessageAttributeValue{
			DataType:    aws.String(sqsStringType),
			StringValue: aws.String(v),
		}
	}
	_, err := s.client.SendMessageWithContext(
		ctx,
		&sqs.SendMessageInput{
			QueueUrl:          aws.String(s.queueURL),
			MessageBody:       aws.String(body),
			MessageAttributes: attrs,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}

func (s *SQS) Receive(ctx context.Context, maxWait time.Duration) ([]Message, error) {
	waitSeconds := min(int64(maxWait/time.Second), sqsMaxWaitSeconds)
	out, err := s.client.ReceiveMessageWithContext(
		ctx,
		&sqs.ReceiveMessageInput{
			QueueUrl:              aws.String(s.queueURL),
			WaitTimeSeconds:       aws.Int64(waitSeconds),
			MaxNumberOfMessages:   aws.Int64(sqsMaxMessages),
			MessageAttributeNames: aws.StringSlice([]string{"All"}),
		},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to receive messages: %w", err)
	}
	ret := make([]Message, 0, len(out.Messages))
	for _, msg := range out.Messages {
		attrs := make(map[string]string, len(msg.MessageAttributes))
		for k, v := range msg.MessageAttributes {
			if v == nil || aws.StringValue(v.DataType) != sqsStringType {
				continue
			}
			attrs[k] = aws.StringValue(v.StringValue)
		}
		ret = append(
			ret,
			Message{
				ID:         aws.StringValue(msg.MessageId),
				Body:       aws.StringValue(msg.Body),
				Attributes: attrs,
				Handle:     aws.StringValue(msg.ReceiptHandle),
			},
		)
	}
	return ret, nil
}

func (s *SQS) Delete(ctx context.Context, msg Message) error {
	_, err := s.client.DeleteMessageWithContext(
		ctx,
		&sqs.DeleteMessageInput{
			QueueUrl:      aws.String(s.queueURL),
			ReceiptHandle: aws.String(msg.Handle),
		},
	)
	if err != nil {
		return fmt.Errorf("failed to delete message %s: %w", msg.ID, err)
	}
	return nil
}

func (s *SQS) Close() error {
	return nil
}

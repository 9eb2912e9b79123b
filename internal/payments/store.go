package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/imrishuroy/go-vehicle-orderflow/internal/aws"
)

// Store encapsulates operations on the payment_intents table.
type Store struct {
	client    aws.DynamoDBAPI
	tableName string
}

// NewStore creates a new payment intent Store.
func NewStore(client aws.DynamoDBAPI, tableName string) *Store {
	return &Store{client: client, tableName: tableName}
}

// PutTx returns the write creating pi. It is committed by the caller together with the order.
func (s *Store) PutTx(pi PaymentIntent) (types.TransactWriteItem, error) {
	m, err := attributevalue.MarshalMap(pi)
	if err != nil {
		return types.TransactWriteItem{}, fmt.Errorf("marshal payment intent: %w", err)
	}
	return types.TransactWriteItem{
		Put: &types.Put{
			TableName:           &s.tableName,
			Item:                m,
			ConditionExpression: awsString("attribute_not_exists(payment_id)"),
		},
	}, nil
}

// CancelTx returns the write voiding an intent inside an order cancellation.
// Re-cancelling is allowed; only a succeeded intent fails the condition.
func (s *Store) CancelTx(paymentID string, now time.Time) (types.TransactWriteItem, error) {
	ua, err := attributevalue.Marshal(now)
	if err != nil {
		return types.TransactWriteItem{}, fmt.Errorf("marshal updated_at: %w", err)
	}
	values := statusValues(voidable)
	values[":cancelled"] = &types.AttributeValueMemberS{Value: StatusCancelled}
	values[":ua"] = ua
	return types.TransactWriteItem{
		Update: &types.Update{
			TableName:                           &s.tableName,
			Key:                                 intentKey(paymentID),
			UpdateExpression:                    awsString("SET #s = :cancelled, updated_at = :ua"),
			ConditionExpression:                 awsString("attribute_exists(payment_id) AND #s IN (" + strings.Join(placeholders(len(voidable)), ", ") + ")"),
			ExpressionAttributeNames:            map[string]string{"#s": "status"},
			ExpressionAttributeValues:           values,
			ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureAllOld,
		},
	}, nil
}

// Get fetches an intent by payment_id. Returns (nil, nil) if not found.
func (s *Store) Get(ctx context.Context, paymentID string) (*PaymentIntent, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName:      &s.tableName,
		Key:            intentKey(paymentID),
		ConsistentRead: awsBool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var pi PaymentIntent
	if err := attributevalue.UnmarshalMap(out.Item, &pi); err != nil {
		return nil, fmt.Errorf("unmarshal payment intent: %w", err)
	}
	return &pi, nil
}

// Transition moves an intent from any of the from statuses to newStatus. When
// the condition fails it returns the item as it was, with ErrStatusMismatch,
// or ErrNotFound if there is no such intent.
func (s *Store) Transition(ctx context.Context, paymentID string, from []string, newStatus, reason string, now time.Time) (*PaymentIntent, error) {
	ua, err := attributevalue.Marshal(now)
	if err != nil {
		return nil, fmt.Errorf("marshal updated_at: %w", err)
	}
	set := []string{"#s = :new", "updated_at = :ua"}
	values := statusValues(from)
	values[":new"] = &types.AttributeValueMemberS{Value: newStatus}
	values[":ua"] = ua
	if reason != "" {
		set = append(set, "failure_reason = :fr")
		values[":fr"] = &types.AttributeValueMemberS{Value: reason}
	}
	out, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:                           &s.tableName,
		Key:                                 intentKey(paymentID),
		UpdateExpression:                    awsString("SET " + strings.Join(set, ", ")),
		ConditionExpression:                 awsString("attribute_exists(payment_id) AND #s IN (" + strings.Join(placeholders(len(from)), ", ") + ")"),
		ExpressionAttributeNames:            map[string]string{"#s": "status"},
		ExpressionAttributeValues:           values,
		ReturnValues:                        types.ReturnValueAllNew,
		ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureAllOld,
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			if len(ccf.Item) == 0 {
				return nil, fmt.Errorf("%w: %s", ErrNotFound, paymentID)
			}
			var cur PaymentIntent
			if uerr := attributevalue.UnmarshalMap(ccf.Item, &cur); uerr != nil {
				return nil, fmt.Errorf("unmarshal payment intent: %w", uerr)
			}
			return &cur, fmt.Errorf("%w: %s is %s", ErrStatusMismatch, paymentID, cur.Status)
		}
		return nil, fmt.Errorf("update item: %w", err)
	}
	var pi PaymentIntent
	if err := attributevalue.UnmarshalMap(out.Attributes, &pi); err != nil {
		return nil, fmt.Errorf("unmarshal payment intent: %w", err)
	}
	return &pi, nil
}

// placeholders returns :s0 .. :s<n-1>, matching statusValues.
func placeholders(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf(":s%d", i)
	}
	return out
}

func statusValues(statuses []string) map[string]types.AttributeValue {
	values := make(map[string]types.AttributeValue, len(statuses)+2)
	for i, st := range statuses {
		values[fmt.Sprintf(":s%d", i)] = &types.AttributeValueMemberS{Value: st}
	}
	return values
}

func intentKey(paymentID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"payment_id": &types.AttributeValueMemberS{Value: paymentID},
	}
}

func awsString(s string) *string { return &s }

func awsBool(b bool) *bool { return &b }

package orders

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/imrishuroy/go-vehicle-orderflow/internal/aws"
)

// Store encapsulates operations on the orders table and the order_numbers guard table.
type Store struct {
	client       aws.DynamoDBAPI
	tableName    string
	numbersTable string
	pageSize     int32
}

// NewStore creates a new orders Store.
func NewStore(client aws.DynamoDBAPI, tableName, numbersTable string) *Store {
	return &Store{
		client:       client,
		tableName:    tableName,
		numbersTable: numbersTable,
		pageSize:     100,
	}
}

// numberGuard reserves an order number; its key is the only attribute that matters.
type numberGuard struct {
	OrderNumber string    `dynamodbav:"order_number"` // PK
	OrderID     string    `dynamodbav:"order_id"`
	CreatedAt   time.Time `dynamodbav:"created_at"`
}

// PutTx returns the writes that create o: the order-number guard and the order row.
func (s *Store) PutTx(o Order) (guard, order types.TransactWriteItem, err error) {
	guardMap, err := attributevalue.MarshalMap(numberGuard{OrderNumber: o.OrderNumber, OrderID: o.OrderID, CreatedAt: o.CreatedAt})
	if err != nil {
		return guard, order, fmt.Errorf("marshal order number guard: %w", err)
	}
	orderMap, err := attributevalue.MarshalMap(o)
	if err != nil {
		return guard, order, fmt.Errorf("marshal order: %w", err)
	}
	guard = types.TransactWriteItem{
		Put: &types.Put{
			TableName:           &s.numbersTable,
			Item:                guardMap,
			ConditionExpression: awsString("attribute_not_exists(order_number)"),
		},
	}
	order = types.TransactWriteItem{
		Put: &types.Put{
			TableName:           &s.tableName,
			Item:                orderMap,
			ConditionExpression: awsString("attribute_not_exists(order_id)"),
		},
	}
	return guard, order, nil
}

// CancelTx returns the guarded write moving an order to cancelled. It fails
// when the order is missing or already past the point of cancellation; the
// old item is returned with the cancellation reason so the caller learns the
// status the guard saw.
func (s *Store) CancelTx(orderID string, now time.Time) (types.TransactWriteItem, error) {
	ua, err := attributevalue.Marshal(now)
	if err != nil {
		return types.TransactWriteItem{}, fmt.Errorf("marshal updated_at: %w", err)
	}
	values := map[string]types.AttributeValue{
		":cancelled": &types.AttributeValueMemberS{Value: StatusCancelled},
		":ua":        ua,
	}
	refs := ""
	for i, st := range terminalForCancel {
		ref := fmt.Sprintf(":t%d", i)
		values[ref] = &types.AttributeValueMemberS{Value: st}
		if i > 0 {
			refs += ", "
		}
		refs += ref
	}
	return types.TransactWriteItem{
		Update: &types.Update{
			TableName:                           &s.tableName,
			Key:                                 orderKey(orderID),
			UpdateExpression:                    awsString("SET #s = :cancelled, updated_at = :ua"),
			ConditionExpression:                 awsString("attribute_exists(order_id) AND NOT (#s IN (" + refs + "))"),
			ExpressionAttributeNames:            map[string]string{"#s": "status"},
			ExpressionAttributeValues:           values,
			ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureAllOld,
		},
	}, nil
}

// Get fetches an order by order_id. Returns (nil, nil) if not found.
func (s *Store) Get(ctx context.Context, orderID string) (*Order, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName:      &s.tableName,
		Key:            orderKey(orderID),
		ConsistentRead: awsBool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var o Order
	if err := attributevalue.UnmarshalMap(out.Item, &o); err != nil {
		return nil, fmt.Errorf("unmarshal order: %w", err)
	}
	return &o, nil
}

// List scans every order and returns them oldest first.
func (s *Store) List(ctx context.Context) ([]Order, error) {
	p := dyn.NewScanPaginator(s.client, &dyn.ScanInput{
		TableName:      &s.tableName,
		Limit:          &s.pageSize,
		ConsistentRead: awsBool(true),
	})
	var out []Order
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("scan orders: %w", err)
		}
		var batch []Order
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &batch); err != nil {
			return nil, fmt.Errorf("unmarshal orders: %w", err)
		}
		out = append(out, batch...)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].OrderID < out[j].OrderID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// SetStatus unconditionally sets status on an existing order. Returns ErrNotFound if absent.
func (s *Store) SetStatus(ctx context.Context, orderID, status string, now time.Time) (*Order, error) {
	ua, err := attributevalue.Marshal(now)
	if err != nil {
		return nil, fmt.Errorf("marshal updated_at: %w", err)
	}
	out, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:                &s.tableName,
		Key:                      orderKey(orderID),
		UpdateExpression:         awsString("SET #s = :new, updated_at = :ua"),
		ConditionExpression:      awsString("attribute_exists(order_id)"),
		ExpressionAttributeNames: map[string]string{"#s": "status"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":new": &types.AttributeValueMemberS{Value: status},
			":ua":  ua,
		},
		ReturnValues: types.ReturnValueAllNew,
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, orderID)
		}
		return nil, fmt.Errorf("update item: %w", err)
	}
	var o Order
	if err := attributevalue.UnmarshalMap(out.Attributes, &o); err != nil {
		return nil, fmt.Errorf("unmarshal order: %w", err)
	}
	return &o, nil
}

func orderKey(orderID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"order_id": &types.AttributeValueMemberS{Value: orderID},
	}
}

func awsString(s string) *string { return &s }

func awsBool(b bool) *bool { return &b }

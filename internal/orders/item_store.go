package orders

import (
	"context"
	"fmt"
	"sort"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/imrishuroy/go-vehicle-orderflow/internal/aws"
)

// ItemStore persists order lines in the order_items table.
type ItemStore struct {
	client    aws.DynamoDBAPI
	tableName string
}

// NewItemStore creates a new ItemStore.
func NewItemStore(client aws.DynamoDBAPI, tableName string) *ItemStore {
	return &ItemStore{client: client, tableName: tableName}
}

// PutTx returns one conditional put per line. The lines are only ever
// written inside the transaction that creates their order.
func (s *ItemStore) PutTx(items []OrderItem) ([]types.TransactWriteItem, error) {
	out := make([]types.TransactWriteItem, 0, len(items))
	for _, it := range items {
		m, err := attributevalue.MarshalMap(it)
		if err != nil {
			return nil, fmt.Errorf("marshal order item %d: %w", it.Line, err)
		}
		out = append(out, types.TransactWriteItem{
			Put: &types.Put{
				TableName:           &s.tableName,
				Item:                m,
				ConditionExpression: awsString("attribute_not_exists(order_id)"),
			},
		})
	}
	return out, nil
}

// List returns the lines of an order in line order.
func (s *ItemStore) List(ctx context.Context, orderID string) ([]OrderItem, error) {
	p := dyn.NewQueryPaginator(s.client, &dyn.QueryInput{
		TableName:              &s.tableName,
		KeyConditionExpression: awsString("order_id = :oid"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":oid": &types.AttributeValueMemberS{Value: orderID},
		},
		ConsistentRead: awsBool(true),
	})
	var out []OrderItem
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("query order items: %w", err)
		}
		var batch []OrderItem
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &batch); err != nil {
			return nil, fmt.Errorf("unmarshal order items: %w", err)
		}
		out = append(out, batch...)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Line < out[j].Line })
	return out, nil
}

package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"

	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/imrishuroy/go-vehicle-orderflow/internal/aws"
)

// Labels for the writes inside a unit of work.
const (
	opOrderNumber   = "order_number"
	opOrder         = "order"
	opItem          = "item"
	opPaymentIntent = "payment_intent"
	opIdempotency   = "idempotency"
)

// unitOfWork collects labelled writes committed with a single TransactWriteItems call.
type unitOfWork struct {
	ops    []types.TransactWriteItem
	labels []string
}

func (u *unitOfWork) add(label string, ops ...types.TransactWriteItem) {
	for range ops {
		u.labels = append(u.labels, label)
	}
	u.ops = append(u.ops, ops...)
}

// conditionFailure reports which labelled writes failed their condition.
// The map value is the item as the condition saw it (nil when absent or not requested).
type conditionFailure struct {
	failed map[string]map[string]types.AttributeValue
}

func (c *conditionFailure) Error() string {
	labels := make([]string, 0, len(c.failed))
	for l := range c.failed {
		labels = append(labels, l)
	}
	return "transaction condition failed: " + strings.Join(labels, ",")
}

func (c *conditionFailure) has(label string) bool {
	_, ok := c.failed[label]
	return ok
}

// commit applies every write in u atomically. A transaction cancelled only
// by condition failures yields *conditionFailure; anything else is wrapped
// as-is.
func commit(ctx context.Context, client aws.DynamoDBAPI, u *unitOfWork) error {
	if len(u.ops) == 0 {
		return nil
	}
	_, err := client.TransactWriteItems(ctx, &dyn.TransactWriteItemsInput{TransactItems: u.ops})
	if err == nil {
		return nil
	}
	var tce *types.TransactionCanceledException
	if !errors.As(err, &tce) {
		if code := aws.ErrorCode(err); code != "" {
			return fmt.Errorf("transact write (%s): %w", code, err)
		}
		return fmt.Errorf("transact write: %w", err)
	}
	cf := &conditionFailure{failed: map[string]map[string]types.AttributeValue{}}
	for i, r := range tce.CancellationReasons {
		code := ""
		if r.Code != nil {
			code = *r.Code
		}
		switch code {
		case "", "None":
			continue
		case "ConditionalCheckFailed":
			if i < len(u.labels) {
				cf.failed[u.labels[i]] = r.Item
			}
		default:
			// TransactionConflict, ThrottlingError, ValidationError...
			return fmt.Errorf("transaction canceled (%s): %w", code, err)
		}
	}
	if len(cf.failed) == 0 {
		return fmt.Errorf("transaction canceled: %w", err)
	}
	return cf
}

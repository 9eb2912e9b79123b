// Package dynamotest provides an in-memory DynamoDB fake for unit tests.
//
// It understands the condition, key-condition and update expressions the
// stores in this module issue: AND-joined clauses of attribute_exists,
// attribute_not_exists, =, <>, IN and NOT (...), and SET assignments.
package dynamotest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

type keySchema struct {
	pk string
	sk string
}

// Fake is a concurrency-safe in-memory table set.
type Fake struct {
	mu       sync.Mutex
	schemas  map[string]keySchema
	tables   map[string]map[string]map[string]types.AttributeValue
	failures map[string]error
	calls    map[string]int
}

// New returns an empty fake with no tables.
func New() *Fake {
	return &Fake{
		schemas:  map[string]keySchema{},
		tables:   map[string]map[string]map[string]types.AttributeValue{},
		failures: map[string]error{},
		calls:    map[string]int{},
	}
}

// CreateTable registers a table with a partition key and an optional sort key.
func (f *Fake) CreateTable(name, pk, sk string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.schemas[name] = keySchema{pk: pk, sk: sk}
	f.tables[name] = map[string]map[string]types.AttributeValue{}
}

// FailNext makes the next call to op (e.g. "TransactWriteItems") return err.
func (f *Fake) FailNext(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[op] = err
}

// Calls reports how many times op was invoked, including failed calls.
func (f *Fake) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

// Seed writes item directly, bypassing conditions.
func (f *Fake) Seed(table string, item map[string]types.AttributeValue) {
	f.mu.Lock()
	defer f.mu.Unlock()
	k, err := f.keyOf(table, item)
	if err != nil {
		panic(err)
	}
	f.tables[table][k] = clone(item)
}

// Items returns a copy of every item in table ordered by key.
func (f *Fake) Items(table string) []map[string]types.AttributeValue {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sorted(table)
}

// Item returns a copy of the item with the given string key values, or nil.
func (f *Fake) Item(table string, keyValues ...string) map[string]types.AttributeValue {
	f.mu.Lock()
	defer f.mu.Unlock()
	parts := make([]string, len(keyValues))
	for i, v := range keyValues {
		parts[i] = "S:" + v
	}
	item, ok := f.tables[table][strings.Join(parts, "\x00")]
	if !ok {
		return nil
	}
	return clone(item)
}

func (f *Fake) begin(op string) error {
	f.calls[op]++
	if err, ok := f.failures[op]; ok {
		delete(f.failures, op)
		return err
	}
	return nil
}

func (f *Fake) GetItem(ctx context.Context, params *dyn.GetItemInput, optFns ...func(*dyn.Options)) (*dyn.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("GetItem"); err != nil {
		return nil, err
	}
	table := sdkaws.ToString(params.TableName)
	k, err := f.keyOf(table, params.Key)
	if err != nil {
		return nil, err
	}
	item, ok := f.tables[table][k]
	if !ok {
		return &dyn.GetItemOutput{}, nil
	}
	return &dyn.GetItemOutput{Item: clone(item)}, nil
}

func (f *Fake) UpdateItem(ctx context.Context, params *dyn.UpdateItemInput, optFns ...func(*dyn.Options)) (*dyn.UpdateItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("UpdateItem"); err != nil {
		return nil, err
	}
	table := sdkaws.ToString(params.TableName)
	k, err := f.keyOf(table, params.Key)
	if err != nil {
		return nil, err
	}
	old := f.tables[table][k]
	ok, err := evalCondition(sdkaws.ToString(params.ConditionExpression), params.ExpressionAttributeNames, params.ExpressionAttributeValues, old)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, conditionFailed(old, params.ReturnValuesOnConditionCheckFailure)
	}
	updated, err := applyUpdate(old, params.Key, sdkaws.ToString(params.UpdateExpression), params.ExpressionAttributeNames, params.ExpressionAttributeValues)
	if err != nil {
		return nil, err
	}
	f.tables[table][k] = updated
	out := &dyn.UpdateItemOutput{}
	switch params.ReturnValues {
	case types.ReturnValueAllNew, types.ReturnValueUpdatedNew:
		out.Attributes = clone(updated)
	case types.ReturnValueAllOld, types.ReturnValueUpdatedOld:
		out.Attributes = clone(old)
	}
	return out, nil
}

func (f *Fake) Query(ctx context.Context, params *dyn.QueryInput, optFns ...func(*dyn.Options)) (*dyn.QueryOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("Query"); err != nil {
		return nil, err
	}
	table := sdkaws.ToString(params.TableName)
	var items []map[string]types.AttributeValue
	for _, item := range f.sorted(table) {
		ok, err := evalCondition(sdkaws.ToString(params.KeyConditionExpression), params.ExpressionAttributeNames, params.ExpressionAttributeValues, item)
		if err != nil {
			return nil, err
		}
		if ok {
			items = append(items, item)
		}
	}
	return &dyn.QueryOutput{Items: items, Count: int32(len(items))}, nil
}

// Scan honours Limit and ExclusiveStartKey so callers exercise pagination.
func (f *Fake) Scan(ctx context.Context, params *dyn.ScanInput, optFns ...func(*dyn.Options)) (*dyn.ScanOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("Scan"); err != nil {
		return nil, err
	}
	table := sdkaws.ToString(params.TableName)
	all := f.sorted(table)
	start := 0
	if len(params.ExclusiveStartKey) > 0 {
		after, err := f.keyOf(table, params.ExclusiveStartKey)
		if err != nil {
			return nil, err
		}
		for i, item := range all {
			k, _ := f.keyOf(table, item)
			if k == after {
				start = i + 1
				break
			}
		}
	}
	end := len(all)
	if params.Limit != nil && int(*params.Limit) > 0 && start+int(*params.Limit) < end {
		end = start + int(*params.Limit)
	}
	out := &dyn.ScanOutput{Items: all[start:end], Count: int32(end - start)}
	if end < len(all) {
		out.LastEvaluatedKey = f.keyAttrs(table, all[end-1])
	}
	return out, nil
}

func (f *Fake) TransactWriteItems(ctx context.Context, params *dyn.TransactWriteItemsInput, optFns ...func(*dyn.Options)) (*dyn.TransactWriteItemsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("TransactWriteItems"); err != nil {
		return nil, err
	}

	type write struct {
		table string
		key   string
		item  map[string]types.AttributeValue
	}
	writes := make([]write, 0, len(params.TransactItems))
	reasons := make([]types.CancellationReason, len(params.TransactItems))
	cancelled := false

	for i, ti := range params.TransactItems {
		reasons[i] = types.CancellationReason{Code: sdkaws.String("None")}
		var (
			table, cond string
			names       map[string]string
			values      map[string]types.AttributeValue
			keyItem     map[string]types.AttributeValue
			onFail      types.ReturnValuesOnConditionCheckFailure
		)
		switch {
		case ti.Put != nil:
			table, cond, names, values, keyItem, onFail = sdkaws.ToString(ti.Put.TableName), sdkaws.ToString(ti.Put.ConditionExpression), ti.Put.ExpressionAttributeNames, ti.Put.ExpressionAttributeValues, ti.Put.Item, ti.Put.ReturnValuesOnConditionCheckFailure
		case ti.Update != nil:
			table, cond, names, values, keyItem, onFail = sdkaws.ToString(ti.Update.TableName), sdkaws.ToString(ti.Update.ConditionExpression), ti.Update.ExpressionAttributeNames, ti.Update.ExpressionAttributeValues, ti.Update.Key, ti.Update.ReturnValuesOnConditionCheckFailure
		case ti.ConditionCheck != nil:
			table, cond, names, values, keyItem, onFail = sdkaws.ToString(ti.ConditionCheck.TableName), sdkaws.ToString(ti.ConditionCheck.ConditionExpression), ti.ConditionCheck.ExpressionAttributeNames, ti.ConditionCheck.ExpressionAttributeValues, ti.ConditionCheck.Key, ti.ConditionCheck.ReturnValuesOnConditionCheckFailure
		default:
			return nil, errors.New("dynamotest: unsupported transact item")
		}
		k, err := f.keyOf(table, keyItem)
		if err != nil {
			return nil, err
		}
		for _, w := range writes {
			if w.table == table && w.key == k {
				return nil, errors.New("dynamotest: transaction touches the same item twice")
			}
		}
		old := f.tables[table][k]
		ok, err := evalCondition(cond, names, values, old)
		if err != nil {
			return nil, err
		}
		if !ok {
			cancelled = true
			reasons[i].Code = sdkaws.String("ConditionalCheckFailed")
			reasons[i].Message = sdkaws.String("The conditional request failed")
			if onFail == types.ReturnValuesOnConditionCheckFailureAllOld && old != nil {
				reasons[i].Item = clone(old)
			}
			continue
		}
		switch {
		case ti.Put != nil:
			writes = append(writes, write{table: table, key: k, item: clone(ti.Put.Item)})
		case ti.Update != nil:
			updated, err := applyUpdate(old, ti.Update.Key, sdkaws.ToString(ti.Update.UpdateExpression), names, values)
			if err != nil {
				return nil, err
			}
			writes = append(writes, write{table: table, key: k, item: updated})
		default:
			writes = append(writes, write{table: table, key: k})
		}
	}

	if cancelled {
		return nil, &types.TransactionCanceledException{
			Message:             sdkaws.String("Transaction cancelled, please refer cancellation reasons for specific reasons"),
			CancellationReasons: reasons,
		}
	}
	for _, w := range writes {
		if w.item != nil {
			f.tables[w.table][w.key] = w.item
		}
	}
	return &dyn.TransactWriteItemsOutput{}, nil
}

func (f *Fake) keyOf(table string, item map[string]types.AttributeValue) (string, error) {
	schema, ok := f.schemas[table]
	if !ok {
		return "", fmt.Errorf("dynamotest: table %q does not exist", table)
	}
	pk, ok := item[schema.pk]
	if !ok {
		return "", fmt.Errorf("dynamotest: %s missing partition key %s", table, schema.pk)
	}
	if schema.sk == "" {
		return scalar(pk), nil
	}
	sk, ok := item[schema.sk]
	if !ok {
		return "", fmt.Errorf("dynamotest: %s missing sort key %s", table, schema.sk)
	}
	return scalar(pk) + "\x00" + scalar(sk), nil
}

func (f *Fake) keyAttrs(table string, item map[string]types.AttributeValue) map[string]types.AttributeValue {
	schema := f.schemas[table]
	out := map[string]types.AttributeValue{schema.pk: item[schema.pk]}
	if schema.sk != "" {
		out[schema.sk] = item[schema.sk]
	}
	return out
}

func (f *Fake) sorted(table string) []map[string]types.AttributeValue {
	keys := make([]string, 0, len(f.tables[table]))
	for k := range f.tables[table] {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]map[string]types.AttributeValue, 0, len(keys))
	for _, k := range keys {
		out = append(out, clone(f.tables[table][k]))
	}
	return out
}

func conditionFailed(old map[string]types.AttributeValue, onFail types.ReturnValuesOnConditionCheckFailure) error {
	e := &types.ConditionalCheckFailedException{Message: sdkaws.String("The conditional request failed")}
	if onFail == types.ReturnValuesOnConditionCheckFailureAllOld && old != nil {
		e.Item = clone(old)
	}
	return e
}

func evalCondition(expr string, names map[string]string, values map[string]types.AttributeValue, item map[string]types.AttributeValue) (bool, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return true, nil
	}
	for _, clause := range strings.Split(expr, " AND ") {
		ok, err := evalClause(strings.TrimSpace(clause), names, values, item)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

func evalClause(clause string, names map[string]string, values map[string]types.AttributeValue, item map[string]types.AttributeValue) (bool, error) {
	switch {
	case strings.HasPrefix(clause, "NOT (") && strings.HasSuffix(clause, ")"):
		ok, err := evalClause(strings.TrimSuffix(strings.TrimPrefix(clause, "NOT ("), ")"), names, values, item)
		return !ok, err
	case strings.HasPrefix(clause, "attribute_exists(") && strings.HasSuffix(clause, ")"):
		_, ok := item[resolve(strings.TrimSuffix(strings.TrimPrefix(clause, "attribute_exists("), ")"), names)]
		return ok, nil
	case strings.HasPrefix(clause, "attribute_not_exists(") && strings.HasSuffix(clause, ")"):
		_, ok := item[resolve(strings.TrimSuffix(strings.TrimPrefix(clause, "attribute_not_exists("), ")"), names)]
		return !ok, nil
	case strings.Contains(clause, " IN ("):
		parts := strings.SplitN(clause, " IN (", 2)
		cur, ok := item[resolve(strings.TrimSpace(parts[0]), names)]
		if !ok {
			return false, nil
		}
		for _, ref := range strings.Split(strings.TrimSuffix(parts[1], ")"), ",") {
			v, ok := values[strings.TrimSpace(ref)]
			if !ok {
				return false, fmt.Errorf("dynamotest: missing value %s", ref)
			}
			if scalar(v) == scalar(cur) {
				return true, nil
			}
		}
		return false, nil
	case strings.Contains(clause, " <> "):
		parts := strings.SplitN(clause, " <> ", 2)
		cur, ok := item[resolve(strings.TrimSpace(parts[0]), names)]
		v, vok := values[strings.TrimSpace(parts[1])]
		if !vok {
			return false, fmt.Errorf("dynamotest: missing value %s", parts[1])
		}
		return !ok || scalar(cur) != scalar(v), nil
	case strings.Contains(clause, " = "):
		parts := strings.SplitN(clause, " = ", 2)
		cur, ok := item[resolve(strings.TrimSpace(parts[0]), names)]
		v, vok := values[strings.TrimSpace(parts[1])]
		if !vok {
			return false, fmt.Errorf("dynamotest: missing value %s", parts[1])
		}
		return ok && scalar(cur) == scalar(v), nil
	}
	return false, fmt.Errorf("dynamotest: unsupported condition %q", clause)
}

func applyUpdate(old, key map[string]types.AttributeValue, expr string, names map[string]string, values map[string]types.AttributeValue) (map[string]types.AttributeValue, error) {
	out := clone(old)
	if out == nil {
		out = clone(key)
	}
	expr = strings.TrimSpace(expr)
	if !strings.HasPrefix(expr, "SET ") {
		return nil, fmt.Errorf("dynamotest: unsupported update %q", expr)
	}
	for _, assign := range strings.Split(strings.TrimPrefix(expr, "SET "), ",") {
		parts := strings.SplitN(assign, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("dynamotest: bad assignment %q", assign)
		}
		v, ok := values[strings.TrimSpace(parts[1])]
		if !ok {
			return nil, fmt.Errorf("dynamotest: missing value %s", parts[1])
		}
		out[resolve(strings.TrimSpace(parts[0]), names)] = v
	}
	return out, nil
}

func resolve(name string, names map[string]string) string {
	if strings.HasPrefix(name, "#") {
		if n, ok := names[name]; ok {
			return n
		}
	}
	return name
}

func scalar(v types.AttributeValue) string {
	switch tv := v.(type) {
	case *types.AttributeValueMemberS:
		return "S:" + tv.Value
	case *types.AttributeValueMemberN:
		return "N:" + tv.Value
	case *types.AttributeValueMemberBOOL:
		return fmt.Sprintf("BOOL:%t", tv.Value)
	case *types.AttributeValueMemberNULL:
		return "NULL"
	}
	return fmt.Sprintf("%T", v)
}

func clone(item map[string]types.AttributeValue) map[string]types.AttributeValue {
	if item == nil {
		return nil
	}
	out := make(map[string]types.AttributeValue, len(item))
	for k, v := range item {
		out[k] = v
	}
	return out
}

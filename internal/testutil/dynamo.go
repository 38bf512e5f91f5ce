// Package testutil holds in-memory fakes shared by package tests.
package testutil

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Dynamo is a mutex-guarded in-memory DynamoDB. It understands the expression subset the
// stores use: attribute_exists/attribute_not_exists, binary comparisons joined by AND, and
// SET assignments of placeholder values.
type Dynamo struct {
	mu     sync.Mutex
	keys   map[string][]string
	tables map[string]map[string]map[string]types.AttributeValue
	errs   map[string]error
	calls  map[string]int
}

// NewDynamo returns an empty fake.
func NewDynamo() *Dynamo {
	return &Dynamo{
		keys:   map[string][]string{},
		tables: map[string]map[string]map[string]types.AttributeValue{},
		errs:   map[string]error{},
		calls:  map[string]int{},
	}
}

// WithTable declares a table and its primary key attribute names (partition, then sort).
func (d *Dynamo) WithTable(name string, keyAttrs ...string) *Dynamo {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.keys[name] = keyAttrs
	d.tables[name] = map[string]map[string]types.AttributeValue{}
	return d
}

// FailWith makes every call to op ("PutItem", "GetItem", "UpdateItem", "Scan") return err.
// A nil err clears the failure.
func (d *Dynamo) FailWith(op string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err == nil {
		delete(d.errs, op)
		return
	}
	d.errs[op] = err
}

// Calls reports how many times op was invoked.
func (d *Dynamo) Calls(op string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls[op]
}

// Item returns a copy of the stored item identified by its key values, or nil.
func (d *Dynamo) Item(table string, keyVals ...string) map[string]types.AttributeValue {
	d.mu.Lock()
	defer d.mu.Unlock()
	item, ok := d.tables[table][strings.Join(keyVals, "\x00")]
	if !ok {
		return nil
	}
	return clone(item)
}

// Seed stores item directly, bypassing conditions.
func (d *Dynamo) Seed(table string, item map[string]types.AttributeValue) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	k, err := d.keyOf(table, item)
	if err != nil {
		return err
	}
	d.tables[table][k] = clone(item)
	return nil
}

// Len returns the number of items in table.
func (d *Dynamo) Len(table string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.tables[table])
}

func (d *Dynamo) begin(op string) error {
	d.calls[op]++
	return d.errs[op]
}

func (d *Dynamo) PutItem(ctx context.Context, params *dyn.PutItemInput, optFns ...func(*dyn.Options)) (*dyn.PutItemOutput, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.begin("PutItem"); err != nil {
		return nil, err
	}
	table := sdkaws.ToString(params.TableName)
	k, err := d.keyOf(table, params.Item)
	if err != nil {
		return nil, err
	}
	existing := d.tables[table][k]
	ok, err := evalCondition(params.ConditionExpression, params.ExpressionAttributeNames, params.ExpressionAttributeValues, existing)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, conditionFailed()
	}
	d.tables[table][k] = clone(params.Item)
	return &dyn.PutItemOutput{}, nil
}

func (d *Dynamo) GetItem(ctx context.Context, params *dyn.GetItemInput, optFns ...func(*dyn.Options)) (*dyn.GetItemOutput, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.begin("GetItem"); err != nil {
		return nil, err
	}
	table := sdkaws.ToString(params.TableName)
	k, err := d.keyOf(table, params.Key)
	if err != nil {
		return nil, err
	}
	item, ok := d.tables[table][k]
	if !ok {
		return &dyn.GetItemOutput{}, nil
	}
	return &dyn.GetItemOutput{Item: clone(item)}, nil
}

func (d *Dynamo) UpdateItem(ctx context.Context, params *dyn.UpdateItemInput, optFns ...func(*dyn.Options)) (*dyn.UpdateItemOutput, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.begin("UpdateItem"); err != nil {
		return nil, err
	}
	table := sdkaws.ToString(params.TableName)
	k, err := d.keyOf(table, params.Key)
	if err != nil {
		return nil, err
	}
	existing := d.tables[table][k]
	ok, err := evalCondition(params.ConditionExpression, params.ExpressionAttributeNames, params.ExpressionAttributeValues, existing)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, conditionFailed()
	}

	item := clone(existing)
	if item == nil {
		item = clone(params.Key)
	}
	if err := applySet(sdkaws.ToString(params.UpdateExpression), params.ExpressionAttributeNames, params.ExpressionAttributeValues, item); err != nil {
		return nil, err
	}
	d.tables[table][k] = item
	return &dyn.UpdateItemOutput{Attributes: clone(item)}, nil
}

func (d *Dynamo) Scan(ctx context.Context, params *dyn.ScanInput, optFns ...func(*dyn.Options)) (*dyn.ScanOutput, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.begin("Scan"); err != nil {
		return nil, err
	}
	table := sdkaws.ToString(params.TableName)
	rows, ok := d.tables[table]
	if !ok {
		return nil, fmt.Errorf("table %q not declared", table)
	}

	keys := make([]string, 0, len(rows))
	for k := range rows {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	start := 0
	if len(params.ExclusiveStartKey) > 0 {
		after, err := d.keyOf(table, params.ExclusiveStartKey)
		if err != nil {
			return nil, err
		}
		start = sort.SearchStrings(keys, after)
		if start < len(keys) && keys[start] == after {
			start++
		}
	}

	limit := len(keys)
	if params.Limit != nil && int(*params.Limit) > 0 {
		limit = int(*params.Limit)
	}

	out := &dyn.ScanOutput{}
	evaluated := 0
	for i := start; i < len(keys) && evaluated < limit; i++ {
		item := rows[keys[i]]
		evaluated++
		match, err := evalCondition(params.FilterExpression, params.ExpressionAttributeNames, params.ExpressionAttributeValues, item)
		if err != nil {
			return nil, err
		}
		if match {
			out.Items = append(out.Items, clone(item))
		}
		if evaluated == limit && i+1 < len(keys) {
			out.LastEvaluatedKey = d.keyAttrs(table, item)
		}
	}
	out.Count = int32(len(out.Items))
	out.ScannedCount = int32(evaluated)
	return out, nil
}

func (d *Dynamo) keyOf(table string, item map[string]types.AttributeValue) (string, error) {
	names, ok := d.keys[table]
	if !ok {
		return "", fmt.Errorf("table %q not declared", table)
	}
	parts := make([]string, 0, len(names))
	for _, n := range names {
		v, ok := scalar(item[n])
		if !ok {
			return "", fmt.Errorf("missing key attribute %q", n)
		}
		parts = append(parts, v)
	}
	return strings.Join(parts, "\x00"), nil
}

func (d *Dynamo) keyAttrs(table string, item map[string]types.AttributeValue) map[string]types.AttributeValue {
	out := map[string]types.AttributeValue{}
	for _, n := range d.keys[table] {
		out[n] = item[n]
	}
	return out
}

func conditionFailed() error {
	return &types.ConditionalCheckFailedException{Message: sdkaws.String("The conditional request failed")}
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

func scalar(v types.AttributeValue) (string, bool) {
	switch t := v.(type) {
	case *types.AttributeValueMemberS:
		return t.Value, true
	case *types.AttributeValueMemberN:
		return t.Value, true
	case *types.AttributeValueMemberBOOL:
		return strconv.FormatBool(t.Value), true
	default:
		return "", false
	}
}

func resolveName(token string, names map[string]string) string {
	if strings.HasPrefix(token, "#") {
		if n, ok := names[token]; ok {
			return n
		}
	}
	return token
}

func evalCondition(expr *string, names map[string]string, values map[string]types.AttributeValue, item map[string]types.AttributeValue) (bool, error) {
	if expr == nil || strings.TrimSpace(*expr) == "" {
		return true, nil
	}
	for _, clause := range strings.Split(*expr, " AND ") {
		ok, err := evalClause(strings.TrimSpace(clause), names, values, item)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

func evalClause(clause string, names map[string]string, values map[string]types.AttributeValue, item map[string]types.AttributeValue) (bool, error) {
	for _, fn := range []string{"attribute_not_exists", "attribute_exists"} {
		if strings.HasPrefix(clause, fn+"(") && strings.HasSuffix(clause, ")") {
			attr := resolveName(strings.TrimSuffix(strings.TrimPrefix(clause, fn+"("), ")"), names)
			_, present := item[attr]
			if fn == "attribute_exists" {
				return present, nil
			}
			return !present, nil
		}
	}

	fields := strings.Fields(clause)
	if len(fields) != 3 {
		return false, fmt.Errorf("unsupported expression clause %q", clause)
	}
	lhs, lok := operand(fields[0], names, values, item)
	rhs, rok := operand(fields[2], names, values, item)
	if !lok || !rok {
		return false, nil
	}
	return compare(lhs, fields[1], rhs)
}

func operand(token string, names map[string]string, values map[string]types.AttributeValue, item map[string]types.AttributeValue) (types.AttributeValue, bool) {
	if strings.HasPrefix(token, ":") {
		v, ok := values[token]
		return v, ok
	}
	v, ok := item[resolveName(token, names)]
	return v, ok
}

func compare(a types.AttributeValue, op string, b types.AttributeValue) (bool, error) {
	var cmp int
	switch av := a.(type) {
	case *types.AttributeValueMemberN:
		bv, ok := b.(*types.AttributeValueMemberN)
		if !ok {
			return false, nil
		}
		x, err := strconv.ParseFloat(av.Value, 64)
		if err != nil {
			return false, err
		}
		y, err := strconv.ParseFloat(bv.Value, 64)
		if err != nil {
			return false, err
		}
		switch {
		case x < y:
			cmp = -1
		case x > y:
			cmp = 1
		}
	default:
		x, xok := scalar(a)
		y, yok := scalar(b)
		if !xok || !yok {
			return false, errors.New("unsupported comparison operand")
		}
		cmp = strings.Compare(x, y)
	}

	switch op {
	case "=":
		return cmp == 0, nil
	case "<>":
		return cmp != 0, nil
	case "<":
		return cmp < 0, nil
	case "<=":
		return cmp <= 0, nil
	case ">":
		return cmp > 0, nil
	case ">=":
		return cmp >= 0, nil
	default:
		return false, fmt.Errorf("unsupported operator %q", op)
	}
}

func applySet(expr string, names map[string]string, values map[string]types.AttributeValue, item map[string]types.AttributeValue) error {
	expr = strings.TrimSpace(expr)
	if !strings.HasPrefix(expr, "SET ") {
		return fmt.Errorf("unsupported update expression %q", expr)
	}
	for _, assignment := range strings.Split(strings.TrimPrefix(expr, "SET "), ",") {
		parts := strings.SplitN(assignment, "=", 2)
		if len(parts) != 2 {
			return fmt.Errorf("unsupported assignment %q", assignment)
		}
		attr := resolveName(strings.TrimSpace(parts[0]), names)
		placeholder := strings.TrimSpace(parts[1])
		v, ok := values[placeholder]
		if !ok {
			return fmt.Errorf("missing value for %s", placeholder)
		}
		item[attr] = v
	}
	return nil
}

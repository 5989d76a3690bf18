package dynamo

import (
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/mbroadst/thinkagain/engine"
)

// keyText renders a key value as its stored string form.
func keyText(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case []byte:
		return string(x)
	}
	if f, ok := engine.Number(v); ok {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return fmt.Sprint(v)
}

func keyAttr(v any) types.AttributeValue {
	return &types.AttributeValueMemberS{Value: keyText(v)}
}

// toItem marshals row. The primary key and GSI key fields are stored as
// strings; nil GSI key fields are omitted since DynamoDB rejects them.
func toItem(info *tableInfo, row engine.Row) (map[string]types.AttributeValue, error) {
	item, err := attributevalue.MarshalMap(row)
	if err != nil {
		return nil, fmt.Errorf("marshal row: %w", err)
	}
	for _, field := range info.keyFields() {
		v, ok := row[field]
		if !ok {
			continue
		}
		if v == nil {
			delete(item, field)
			continue
		}
		item[field] = keyAttr(v)
	}
	return item, nil
}

func fromItem(item map[string]types.AttributeValue) (engine.Row, error) {
	if item == nil {
		return nil, nil
	}
	row := engine.Row{}
	if err := attributevalue.UnmarshalMap(item, &row); err != nil {
		return nil, fmt.Errorf("unmarshal item: %w", err)
	}
	return row, nil
}

func fromItems(items []map[string]types.AttributeValue) ([]engine.Row, error) {
	rows := make([]engine.Row, 0, len(items))
	for _, item := range items {
		row, err := fromItem(item)
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// Package stream turns DynamoDB Streams records into change-feed events.
package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/mbroadst/thinkagain/engine"
)

// ErrBadRecord is returned for stream records that cannot be decoded.
var ErrBadRecord = errors.New("stream: malformed record")

// Publisher receives decoded changes. *dynamo.Hub implements it.
type Publisher interface {
	Publish(table string, key any, c engine.Change)
}

// Handler publishes DynamoDB stream records as engine changes.
type Handler struct {
	publisher Publisher
	prefix    string
	logger    *slog.Logger
}

// NewHandler creates a handler. Records from tables not starting with
// prefix are ignored, and the prefix is stripped from published table names.
func NewHandler(p Publisher, prefix string, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		publisher: p,
		prefix:    prefix,
		logger:    logger,
	}
}

// HandleChanges publishes every record of event in order.
// This function is designed to be used as an AWS Lambda handler.
func (h *Handler) HandleChanges(ctx context.Context, event events.DynamoDBEvent) error {
	for _, record := range event.Records {
		if err := h.processRecord(ctx, record); err != nil {
			h.logger.Error("failed to process record",
				"eventID", record.EventID,
				"error", err,
			)
			return err
		}
	}
	return nil
}

func (h *Handler) processRecord(_ context.Context, record events.DynamoDBEventRecord) error {
	table, ok := h.tableName(record.EventSourceArn)
	if !ok {
		h.logger.Debug("skipping record from foreign table",
			"eventID", record.EventID,
			"source", record.EventSourceArn,
		)
		return nil
	}

	key, err := keyValue(record.Change.Keys)
	if err != nil {
		return err
	}

	var change engine.Change
	switch record.EventName {
	case string(events.DynamoDBOperationTypeInsert):
		change.New, err = ConvertImage(record.Change.NewImage)
	case string(events.DynamoDBOperationTypeModify):
		if change.Old, err = ConvertImage(record.Change.OldImage); err == nil {
			change.New, err = ConvertImage(record.Change.NewImage)
		}
	case string(events.DynamoDBOperationTypeRemove):
		change.Old, err = ConvertImage(record.Change.OldImage)
	default:
		return nil
	}
	if err != nil {
		return err
	}

	h.publisher.Publish(table, key, change)
	h.logger.Info("published change",
		"table", table,
		"key", key,
		"event", record.EventName,
	)
	return nil
}

// tableName extracts the table from a stream ARN such as
// arn:aws:dynamodb:us-east-1:123456789012:table/app_posts/stream/2024-01-01T00:00:00.000.
func (h *Handler) tableName(arn string) (string, bool) {
	_, rest, ok := strings.Cut(arn, ":table/")
	if !ok {
		return "", false
	}
	table, _, _ := strings.Cut(rest, "/")
	if table == "" || !strings.HasPrefix(table, h.prefix) {
		return "", false
	}
	return strings.TrimPrefix(table, h.prefix), true
}

func keyValue(keys map[string]events.DynamoDBAttributeValue) (any, error) {
	if len(keys) != 1 {
		return nil, fmt.Errorf("%w: want one key attribute, got %d", ErrBadRecord, len(keys))
	}
	for _, v := range keys {
		switch v.DataType() {
		case events.DataTypeString:
			return v.String(), nil
		case events.DataTypeNumber:
			return v.Number(), nil
		}
	}
	return nil, fmt.Errorf("%w: unsupported key type", ErrBadRecord)
}

// ConvertImage decodes a stream image into a row. A nil image yields a nil row.
func ConvertImage(image map[string]events.DynamoDBAttributeValue) (engine.Row, error) {
	if image == nil {
		return nil, nil
	}
	row := engine.Row{}
	if err := attributevalue.UnmarshalMap(ConvertAttributes(image), &row); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadRecord, err)
	}
	return row, nil
}

// ConvertAttributes converts stream attribute values to their SDK form.
func ConvertAttributes(image map[string]events.DynamoDBAttributeValue) map[string]types.AttributeValue {
	result := make(map[string]types.AttributeValue, len(image))
	for k, v := range image {
		if av := convertAttribute(v); av != nil {
			result[k] = av
		}
	}
	return result
}

func convertAttribute(v events.DynamoDBAttributeValue) types.AttributeValue {
	switch v.DataType() {
	case events.DataTypeString:
		return &types.AttributeValueMemberS{Value: v.String()}
	case events.DataTypeNumber:
		return &types.AttributeValueMemberN{Value: v.Number()}
	case events.DataTypeBinary:
		return &types.AttributeValueMemberB{Value: v.Binary()}
	case events.DataTypeBoolean:
		return &types.AttributeValueMemberBOOL{Value: v.Boolean()}
	case events.DataTypeNull:
		return &types.AttributeValueMemberNULL{Value: true}
	case events.DataTypeStringSet:
		return &types.AttributeValueMemberSS{Value: v.StringSet()}
	case events.DataTypeNumberSet:
		return &types.AttributeValueMemberNS{Value: v.NumberSet()}
	case events.DataTypeBinarySet:
		return &types.AttributeValueMemberBS{Value: v.BinarySet()}
	case events.DataTypeList:
		list := make([]types.AttributeValue, 0, len(v.List()))
		for _, item := range v.List() {
			if av := convertAttribute(item); av != nil {
				list = append(list, av)
			}
		}
		return &types.AttributeValueMemberL{Value: list}
	case events.DataTypeMap:
		return &types.AttributeValueMemberM{Value: ConvertAttributes(v.Map())}
	}
	return nil
}

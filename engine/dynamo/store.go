package dynamo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
	"github.com/google/uuid"

	"github.com/mbroadst/thinkagain/engine"
)

type indexInfo struct {
	field string
	multi bool
}

// tableInfo is replaced, never mutated, once stored.
type tableInfo struct {
	pk      string
	indexes map[string]indexInfo
}

func (t *tableInfo) keyFields() []string {
	fields := []string{t.pk}
	for _, ix := range t.indexes {
		if !ix.multi {
			fields = append(fields, ix.field)
		}
	}
	return fields
}

func (t *tableInfo) withIndex(name string, ix indexInfo) *tableInfo {
	next := &tableInfo{pk: t.pk, indexes: make(map[string]indexInfo, len(t.indexes)+1)}
	for k, v := range t.indexes {
		next.indexes[k] = v
	}
	next.indexes[name] = ix
	return next
}

// Store implements engine.Engine on DynamoDB.
type Store struct {
	client Client
	config Config
	hub    *Hub

	mu     sync.Mutex
	tables map[string]*tableInfo

	// DynamoDB accepts one GSI creation per table at a time.
	indexMu sync.Mutex
}

var _ engine.Engine = (*Store)(nil)

// New creates a Store over client.
func New(client Client, cfg Config) *Store {
	cfg.validate()
	return &Store{
		client: client,
		config: cfg,
		hub:    NewHub(),
		tables: make(map[string]*tableInfo),
	}
}

// Open creates a Store using the default AWS configuration chain.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return New(dynamodb.NewFromConfig(awsCfg), cfg), nil
}

// Hub returns the hub serving the store's change feeds.
func (s *Store) Hub() *Hub {
	return s.hub
}

// TableName returns the DynamoDB table name for a model table.
func (s *Store) TableName(name string) string {
	return s.config.TablePrefix + name
}

func (s *Store) info(ctx context.Context, name string) (*tableInfo, error) {
	s.mu.Lock()
	t, ok := s.tables[name]
	s.mu.Unlock()
	if ok {
		return t, nil
	}

	out, err := s.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(s.TableName(name)),
	})
	if err != nil {
		var notFound *types.ResourceNotFoundException
		if errors.As(err, &notFound) {
			return nil, fmt.Errorf("%w: %s", engine.ErrTableNotFound, name)
		}
		return nil, fmt.Errorf("describe table %s: %w", name, err)
	}

	t = describe(out.Table)
	s.mu.Lock()
	if known, ok := s.tables[name]; ok {
		t = known
	} else {
		s.tables[name] = t
	}
	s.mu.Unlock()
	return t, nil
}

func describe(td *types.TableDescription) *tableInfo {
	t := &tableInfo{pk: "id", indexes: make(map[string]indexInfo)}
	if td == nil {
		return t
	}
	for _, k := range td.KeySchema {
		if k.KeyType == types.KeyTypeHash {
			t.pk = aws.ToString(k.AttributeName)
		}
	}
	for _, gsi := range td.GlobalSecondaryIndexes {
		if len(gsi.KeySchema) == 0 {
			continue
		}
		t.indexes[aws.ToString(gsi.IndexName)] = indexInfo{field: aws.ToString(gsi.KeySchema[0].AttributeName)}
	}
	return t
}

func (s *Store) remember(name string, t *tableInfo) {
	s.mu.Lock()
	s.tables[name] = t
	s.mu.Unlock()
}

// CreateTable implements engine.Engine. It blocks until the table is active.
func (s *Store) CreateTable(ctx context.Context, name string, opts engine.TableOptions) error {
	pk := opts.PrimaryKey
	if pk == "" {
		pk = "id"
	}
	table := s.TableName(name)

	_, err := s.client.CreateTable(ctx, &dynamodb.CreateTableInput{
		TableName: aws.String(table),
		AttributeDefinitions: []types.AttributeDefinition{
			{AttributeName: aws.String(pk), AttributeType: types.ScalarAttributeTypeS},
		},
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String(pk), KeyType: types.KeyTypeHash},
		},
		BillingMode: types.BillingModePayPerRequest,
		StreamSpecification: &types.StreamSpecification{
			StreamEnabled:  aws.Bool(true),
			StreamViewType: types.StreamViewTypeNewAndOldImages,
		},
	})
	if err != nil {
		var inUse *types.ResourceInUseException
		if errors.As(err, &inUse) {
			if _, err := s.info(ctx, name); err != nil {
				return err
			}
			return engine.ErrTableExists
		}
		return fmt.Errorf("create table %s: %w", name, err)
	}

	waiter := dynamodb.NewTableExistsWaiter(s.client)
	if err := waiter.Wait(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(table)}, s.config.TableWaitTimeout); err != nil {
		return fmt.Errorf("wait for table %s: %w", name, err)
	}

	s.remember(name, &tableInfo{pk: pk, indexes: make(map[string]indexInfo)})
	return nil
}

// CreateIndex implements engine.Engine. Plain indexes become global
// secondary indexes and CreateIndex blocks until they are active. Multi
// indexes are recorded locally and served by scans.
func (s *Store) CreateIndex(ctx context.Context, table string, opts engine.IndexOptions) error {
	field := opts.Field
	if field == "" {
		field = opts.Name
	}

	s.indexMu.Lock()
	defer s.indexMu.Unlock()

	t, err := s.info(ctx, table)
	if err != nil {
		return err
	}
	if _, ok := t.indexes[opts.Name]; ok {
		return engine.ErrIndexExists
	}
	ix := indexInfo{field: field, multi: opts.Multi}
	if opts.Multi {
		s.remember(table, t.withIndex(opts.Name, ix))
		return nil
	}

	_, err = s.client.UpdateTable(ctx, &dynamodb.UpdateTableInput{
		TableName: aws.String(s.TableName(table)),
		AttributeDefinitions: []types.AttributeDefinition{
			{AttributeName: aws.String(field), AttributeType: types.ScalarAttributeTypeS},
		},
		GlobalSecondaryIndexUpdates: []types.GlobalSecondaryIndexUpdate{{
			Create: &types.CreateGlobalSecondaryIndexAction{
				IndexName: aws.String(opts.Name),
				KeySchema: []types.KeySchemaElement{
					{AttributeName: aws.String(field), KeyType: types.KeyTypeHash},
				},
				Projection: &types.Projection{ProjectionType: types.ProjectionTypeAll},
			},
		}},
	})
	if err != nil {
		if indexExists(err) {
			s.remember(table, t.withIndex(opts.Name, ix))
			return engine.ErrIndexExists
		}
		return fmt.Errorf("create index %s on %s: %w", opts.Name, table, err)
	}

	if err := s.waitIndex(ctx, table, opts.Name); err != nil {
		return err
	}
	s.remember(table, t.withIndex(opts.Name, ix))
	return nil
}

func indexExists(err error) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return strings.Contains(apiErr.ErrorMessage(), "already exists")
}

func (s *Store) waitIndex(ctx context.Context, table, name string) error {
	ticker := time.NewTicker(s.config.IndexPollInterval)
	defer ticker.Stop()

	for {
		out, err := s.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{
			TableName: aws.String(s.TableName(table)),
		})
		if err != nil {
			return fmt.Errorf("describe table %s: %w", table, err)
		}
		if out.Table != nil {
			for _, gsi := range out.Table.GlobalSecondaryIndexes {
				if aws.ToString(gsi.IndexName) == name && gsi.IndexStatus == types.IndexStatusActive {
					return nil
				}
			}
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("wait for index %s on %s: %w", name, table, ctx.Err())
		case <-ticker.C:
		}
	}
}

// Insert implements engine.Engine.
func (s *Store) Insert(ctx context.Context, table string, rows []engine.Row, opts engine.WriteOptions) (*engine.WriteResult, error) {
	t, err := s.info(ctx, table)
	if err != nil {
		return nil, err
	}

	items := make([]map[string]types.AttributeValue, 0, len(rows))
	for _, in := range rows {
		row := engine.CloneRow(in)
		if row == nil {
			row = engine.Row{}
		}
		if v, ok := row[t.pk]; !ok || v == nil {
			row[t.pk] = uuid.NewString()
		}
		item, err := toItem(t, row)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}

	result := &engine.WriteResult{}
	if opts.Conflict == engine.ConflictReplace || len(items) == 1 {
		for _, item := range items {
			change, ok, err := s.put(ctx, t, table, item, opts.Conflict)
			if err != nil {
				return nil, err
			}
			if !ok {
				refuse(result, t.pk, item)
				continue
			}
			s.record(result, table, t.pk, change, opts)
		}
		return result, nil
	}

	for start := 0; start < len(items); start += s.config.MaxTransactItems {
		end := min(start+s.config.MaxTransactItems, len(items))
		chunk := items[start:end]
		refused, err := s.transact(ctx, t, table, chunk)
		if err != nil {
			return nil, err
		}
		if len(refused) > 0 {
			for _, i := range refused {
				refuse(result, t.pk, chunk[i])
			}
			result.Skipped += len(chunk) - len(refused)
			continue
		}
		for _, item := range chunk {
			row, err := fromItem(item)
			if err != nil {
				return nil, err
			}
			s.record(result, table, t.pk, engine.Change{New: row}, opts)
		}
	}
	return result, nil
}

func refuse(result *engine.WriteResult, pk string, item map[string]types.AttributeValue) {
	result.Errors++
	if result.FirstError != "" {
		return
	}
	var key string
	_ = attributevalue.Unmarshal(item[pk], &key)
	result.FirstError = fmt.Sprintf("Duplicate primary key `%s`: %s", pk, key)
}

// record counts a successful write, keeps its change when asked to and
// publishes it.
func (s *Store) record(result *engine.WriteResult, table, pk string, change engine.Change, opts engine.WriteOptions) {
	switch {
	case change.New == nil:
		result.Deleted++
	case change.Old == nil:
		result.Inserted++
	default:
		result.Replaced++
	}
	if opts.ReturnChanges {
		result.Changes = append(result.Changes, change)
	}
	s.publish(table, pk, change)
}

func (s *Store) publish(table, pk string, change engine.Change) {
	if !*s.config.PublishWrites {
		return
	}
	row := change.New
	if row == nil {
		row = change.Old
	}
	s.hub.Publish(table, row[pk], change)
}

// put writes one item. It reports false when a ConflictError put found the
// key taken.
func (s *Store) put(ctx context.Context, t *tableInfo, table string, item map[string]types.AttributeValue, conflict engine.Conflict) (engine.Change, bool, error) {
	in := &dynamodb.PutItemInput{
		TableName:    aws.String(s.TableName(table)),
		Item:         item,
		ReturnValues: types.ReturnValueAllOld,
	}
	if conflict == engine.ConflictError {
		in.ConditionExpression = aws.String("attribute_not_exists(#pk)")
		in.ExpressionAttributeNames = map[string]string{"#pk": t.pk}
	}

	out, err := s.client.PutItem(ctx, in)
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return engine.Change{}, false, nil
		}
		return engine.Change{}, false, fmt.Errorf("put into %s: %w", table, err)
	}

	old, err := fromItem(out.Attributes)
	if err != nil {
		return engine.Change{}, false, err
	}
	row, err := fromItem(item)
	if err != nil {
		return engine.Change{}, false, err
	}
	return engine.Change{Old: old, New: row}, true, nil
}

// transact inserts items in one transaction. It returns the positions of
// the items refused because their key was taken.
func (s *Store) transact(ctx context.Context, t *tableInfo, table string, items []map[string]types.AttributeValue) ([]int, error) {
	tx := make([]types.TransactWriteItem, len(items))
	for i, item := range items {
		tx[i] = types.TransactWriteItem{
			Put: &types.Put{
				TableName:                aws.String(s.TableName(table)),
				Item:                     item,
				ConditionExpression:      aws.String("attribute_not_exists(#pk)"),
				ExpressionAttributeNames: map[string]string{"#pk": t.pk},
			},
		}
	}

	_, err := s.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: tx})
	if err == nil {
		return nil, nil
	}

	var txErr *types.TransactionCanceledException
	if errors.As(err, &txErr) {
		var refused []int
		for i, reason := range txErr.CancellationReasons {
			if reason.Code != nil && *reason.Code == "ConditionalCheckFailed" {
				refused = append(refused, i)
			}
		}
		if len(refused) > 0 {
			return refused, nil
		}
	}
	return nil, fmt.Errorf("insert into %s: %w", table, err)
}

// Get implements engine.Engine. Reads are strongly consistent.
func (s *Store) Get(ctx context.Context, table string, key any) (engine.Row, error) {
	t, err := s.info(ctx, table)
	if err != nil {
		return nil, err
	}
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.TableName(table)),
		Key:            map[string]types.AttributeValue{t.pk: keyAttr(key)},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get from %s: %w", table, err)
	}
	if out.Item == nil {
		return nil, engine.ErrNotFound
	}
	return fromItem(out.Item)
}

// Replace implements engine.Engine. Replacing a missing row inserts it.
func (s *Store) Replace(ctx context.Context, table string, key any, in engine.Row, opts engine.WriteOptions) (*engine.WriteResult, error) {
	t, err := s.info(ctx, table)
	if err != nil {
		return nil, err
	}

	result := &engine.WriteResult{}
	row := engine.CloneRow(in)
	if row == nil {
		row = engine.Row{}
	}
	if pk, ok := row[t.pk]; ok && keyText(pk) != keyText(key) {
		result.Errors++
		result.FirstError = fmt.Sprintf("Primary key `%s` cannot be changed", t.pk)
		return result, nil
	}
	row[t.pk] = key

	item, err := toItem(t, row)
	if err != nil {
		return nil, err
	}
	change, _, err := s.put(ctx, t, table, item, engine.ConflictReplace)
	if err != nil {
		return nil, err
	}
	s.record(result, table, t.pk, change, opts)
	return result, nil
}

// Delete implements engine.Engine.
func (s *Store) Delete(ctx context.Context, table string, key any) (*engine.WriteResult, error) {
	t, err := s.info(ctx, table)
	if err != nil {
		return nil, err
	}
	out, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:    aws.String(s.TableName(table)),
		Key:          map[string]types.AttributeValue{t.pk: keyAttr(key)},
		ReturnValues: types.ReturnValueAllOld,
	})
	if err != nil {
		return nil, fmt.Errorf("delete from %s: %w", table, err)
	}

	result := &engine.WriteResult{}
	old, err := fromItem(out.Attributes)
	if err != nil {
		return nil, err
	}
	if old == nil {
		result.Skipped++
		return result, nil
	}
	s.record(result, table, t.pk, engine.Change{Old: old}, engine.WriteOptions{ReturnChanges: true})
	return result, nil
}

// GetAll implements engine.Engine. Index reads are eventually consistent.
func (s *Store) GetAll(ctx context.Context, table, index string, values ...any) ([]engine.Row, error) {
	t, err := s.info(ctx, table)
	if err != nil {
		return nil, err
	}

	var ix indexInfo
	byKey := index == "" || index == t.pk
	if !byKey {
		var ok bool
		if ix, ok = t.indexes[index]; !ok {
			return nil, fmt.Errorf("%w: %s", engine.ErrIndexNotFound, index)
		}
	}

	seen := make(map[string]struct{})
	var rows []engine.Row
	for _, value := range values {
		if value == nil {
			continue
		}
		var found []engine.Row
		switch {
		case byKey:
			row, err := s.Get(ctx, table, value)
			if errors.Is(err, engine.ErrNotFound) {
				continue
			}
			if err != nil {
				return nil, err
			}
			found = []engine.Row{row}
		case ix.multi:
			found, err = s.scanContains(ctx, table, ix.field, value)
		default:
			found, err = s.query(ctx, table, index, ix.field, value)
		}
		if err != nil {
			return nil, err
		}
		for _, row := range found {
			k := keyText(row[t.pk])
			if _, ok := seen[k]; ok {
				continue
			}
			seen[k] = struct{}{}
			rows = append(rows, row)
		}
	}
	return rows, nil
}

func (s *Store) query(ctx context.Context, table, index, field string, value any) ([]engine.Row, error) {
	paginator := dynamodb.NewQueryPaginator(s.client, &dynamodb.QueryInput{
		TableName:                 aws.String(s.TableName(table)),
		IndexName:                 aws.String(index),
		KeyConditionExpression:    aws.String("#k = :v"),
		ExpressionAttributeNames:  map[string]string{"#k": field},
		ExpressionAttributeValues: map[string]types.AttributeValue{":v": keyAttr(value)},
	})

	var rows []engine.Row
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("query %s on %s: %w", index, table, err)
		}
		found, err := fromItems(page.Items)
		if err != nil {
			return nil, err
		}
		rows = append(rows, found...)
	}
	return rows, nil
}

func (s *Store) scanContains(ctx context.Context, table, field string, value any) ([]engine.Row, error) {
	av, err := attributevalue.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("marshal value: %w", err)
	}
	return s.scan(ctx, &dynamodb.ScanInput{
		TableName:                 aws.String(s.TableName(table)),
		FilterExpression:          aws.String("contains(#k, :v)"),
		ExpressionAttributeNames:  map[string]string{"#k": field},
		ExpressionAttributeValues: map[string]types.AttributeValue{":v": av},
		ConsistentRead:            aws.Bool(true),
	})
}

func (s *Store) scan(ctx context.Context, in *dynamodb.ScanInput) ([]engine.Row, error) {
	paginator := dynamodb.NewScanPaginator(s.client, in)

	var rows []engine.Row
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", aws.ToString(in.TableName), err)
		}
		found, err := fromItems(page.Items)
		if err != nil {
			return nil, err
		}
		rows = append(rows, found...)
	}
	return rows, nil
}

// DeleteAll implements engine.Engine.
func (s *Store) DeleteAll(ctx context.Context, table, index string, values ...any) (*engine.WriteResult, error) {
	t, err := s.info(ctx, table)
	if err != nil {
		return nil, err
	}
	rows, err := s.GetAll(ctx, table, index, values...)
	if err != nil {
		return nil, err
	}

	result := &engine.WriteResult{}
	for _, row := range rows {
		deleted, err := s.Delete(ctx, table, row[t.pk])
		if err != nil {
			return nil, err
		}
		deleted.Changes = nil
		result.Merge(deleted)
	}
	return result, nil
}

// Unset implements engine.Engine. The primary key is never removed.
func (s *Store) Unset(ctx context.Context, table, index string, value any, fields ...string) (*engine.WriteResult, error) {
	t, err := s.info(ctx, table)
	if err != nil {
		return nil, err
	}
	rows, err := s.GetAll(ctx, table, index, value)
	if err != nil {
		return nil, err
	}

	names := map[string]string{"#pk": t.pk}
	var removes []string
	for _, f := range fields {
		if f == t.pk {
			continue
		}
		placeholder := fmt.Sprintf("#attr%d", len(removes))
		names[placeholder] = f
		removes = append(removes, placeholder)
	}

	result := &engine.WriteResult{}
	if len(removes) == 0 {
		result.Unchanged = len(rows)
		return result, nil
	}

	for _, row := range rows {
		if !hasAny(row, fields) {
			result.Unchanged++
			continue
		}
		out, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
			TableName:                aws.String(s.TableName(table)),
			Key:                      map[string]types.AttributeValue{t.pk: keyAttr(row[t.pk])},
			UpdateExpression:         aws.String("REMOVE " + strings.Join(removes, ", ")),
			ConditionExpression:      aws.String("attribute_exists(#pk)"),
			ExpressionAttributeNames: names,
			ReturnValues:             types.ReturnValueAllNew,
		})
		if err != nil {
			var condErr *types.ConditionalCheckFailedException
			if errors.As(err, &condErr) {
				result.Skipped++
				continue
			}
			return nil, fmt.Errorf("unset %s: %w", table, err)
		}
		updated, err := fromItem(out.Attributes)
		if err != nil {
			return nil, err
		}
		s.record(result, table, t.pk, engine.Change{Old: row, New: updated}, engine.WriteOptions{})
	}
	return result, nil
}

func hasAny(row engine.Row, fields []string) bool {
	for _, f := range fields {
		if _, ok := row[f]; ok {
			return true
		}
	}
	return false
}

// Changes implements engine.Engine. Feeds only see changes published to the
// store's hub.
func (s *Store) Changes(ctx context.Context, table string, opts engine.ChangesOptions) (engine.Feed, error) {
	if _, err := s.info(ctx, table); err != nil {
		return nil, err
	}
	sub := s.hub.Subscribe(table, opts.Key)
	if !opts.IncludeInitial {
		return sub, nil
	}

	if opts.Key != nil {
		row, err := s.Get(ctx, table, opts.Key)
		if err != nil && !errors.Is(err, engine.ErrNotFound) {
			_ = sub.Close()
			return nil, err
		}
		sub.Push(engine.Change{New: row, Initial: true})
		return sub, nil
	}

	rows, err := s.scan(ctx, &dynamodb.ScanInput{
		TableName:      aws.String(s.TableName(table)),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		_ = sub.Close()
		return nil, err
	}
	for _, row := range rows {
		sub.Push(engine.Change{New: row, Initial: true})
	}
	return sub, nil
}

package dynamo

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/go-cmp/cmp"

	"github.com/mbroadst/thinkagain/engine"
)

func newTestStore(f *fakeClient) *Store {
	s := New(f, Config{TablePrefix: "test_", IndexPollInterval: time.Millisecond})
	s.remember("posts", &tableInfo{
		pk: "id",
		indexes: map[string]indexInfo{
			"authorId": {field: "authorId"},
			"tags":     {field: "tags", multi: true},
		},
	})
	return s
}

func activeTable(in *dynamodb.DescribeTableInput) (*dynamodb.DescribeTableOutput, error) {
	return &dynamodb.DescribeTableOutput{Table: &types.TableDescription{
		TableName:   in.TableName,
		TableStatus: types.TableStatusActive,
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String("key"), KeyType: types.KeyTypeHash},
		},
	}}, nil
}

func str(v string) types.AttributeValue {
	return &types.AttributeValueMemberS{Value: v}
}

func TestConfig_Validate(t *testing.T) {
	cfg := Config{MaxTransactItems: 500}
	cfg.validate()

	if cfg.PublishWrites == nil || !*cfg.PublishWrites {
		t.Error("PublishWrites should default to true")
	}
	if cfg.MaxTransactItems != 100 {
		t.Errorf("MaxTransactItems = %d, want 100", cfg.MaxTransactItems)
	}
	if cfg.IndexPollInterval != 5*time.Second {
		t.Errorf("IndexPollInterval = %v, want 5s", cfg.IndexPollInterval)
	}
	if cfg.TableWaitTimeout != 5*time.Minute {
		t.Errorf("TableWaitTimeout = %v, want 5m", cfg.TableWaitTimeout)
	}
}

func TestCreateTable(t *testing.T) {
	var got *dynamodb.CreateTableInput
	f := &fakeClient{
		createTable: func(in *dynamodb.CreateTableInput) (*dynamodb.CreateTableOutput, error) {
			got = in
			return &dynamodb.CreateTableOutput{}, nil
		},
		describeTable: activeTable,
	}
	s := newTestStore(f)

	if err := s.CreateTable(context.Background(), "users", engine.TableOptions{PrimaryKey: "key"}); err != nil {
		t.Fatalf("CreateTable() error = %v", err)
	}
	if aws.ToString(got.TableName) != "test_users" {
		t.Errorf("TableName = %q, want test_users", aws.ToString(got.TableName))
	}
	if got.BillingMode != types.BillingModePayPerRequest {
		t.Errorf("BillingMode = %v", got.BillingMode)
	}
	if got.StreamSpecification == nil || got.StreamSpecification.StreamViewType != types.StreamViewTypeNewAndOldImages {
		t.Error("table should stream new and old images")
	}
	if diff := cmp.Diff([]string{"CreateTable", "DescribeTable"}, f.Calls()); diff != "" {
		t.Errorf("calls mismatch (-want +got):\n%s", diff)
	}

	info, err := s.info(context.Background(), "users")
	if err != nil {
		t.Fatal(err)
	}
	if info.pk != "key" {
		t.Errorf("pk = %q, want key", info.pk)
	}
}

func TestCreateTable_Exists(t *testing.T) {
	f := &fakeClient{
		createTable: func(*dynamodb.CreateTableInput) (*dynamodb.CreateTableOutput, error) {
			return nil, &types.ResourceInUseException{Message: aws.String("Table already exists")}
		},
		describeTable: activeTable,
	}
	s := newTestStore(f)

	err := s.CreateTable(context.Background(), "users", engine.TableOptions{})
	if !errors.Is(err, engine.ErrTableExists) {
		t.Fatalf("CreateTable() error = %v, want ErrTableExists", err)
	}
	info, err := s.info(context.Background(), "users")
	if err != nil {
		t.Fatal(err)
	}
	if info.pk != "key" {
		t.Errorf("pk = %q, want the described key", info.pk)
	}
}

func TestInfo_TableNotFound(t *testing.T) {
	f := &fakeClient{
		describeTable: func(*dynamodb.DescribeTableInput) (*dynamodb.DescribeTableOutput, error) {
			return nil, &types.ResourceNotFoundException{}
		},
	}
	s := newTestStore(f)

	_, err := s.Get(context.Background(), "missing", "1")
	if !errors.Is(err, engine.ErrTableNotFound) {
		t.Errorf("Get() error = %v, want ErrTableNotFound", err)
	}
}

func TestCreateIndex(t *testing.T) {
	var update *dynamodb.UpdateTableInput
	polls := 0
	f := &fakeClient{
		updateTable: func(in *dynamodb.UpdateTableInput) (*dynamodb.UpdateTableOutput, error) {
			update = in
			return &dynamodb.UpdateTableOutput{}, nil
		},
		describeTable: func(in *dynamodb.DescribeTableInput) (*dynamodb.DescribeTableOutput, error) {
			polls++
			status := types.IndexStatusCreating
			if polls > 1 {
				status = types.IndexStatusActive
			}
			return &dynamodb.DescribeTableOutput{Table: &types.TableDescription{
				GlobalSecondaryIndexes: []types.GlobalSecondaryIndexDescription{
					{IndexName: aws.String("postId"), IndexStatus: status},
				},
			}}, nil
		},
	}
	s := newTestStore(f)
	ctx := context.Background()

	if err := s.CreateIndex(ctx, "posts", engine.IndexOptions{Name: "postId"}); err != nil {
		t.Fatalf("CreateIndex() error = %v", err)
	}
	if polls != 2 {
		t.Errorf("polled %d times, want 2", polls)
	}
	action := update.GlobalSecondaryIndexUpdates[0].Create
	if aws.ToString(action.IndexName) != "postId" || aws.ToString(action.KeySchema[0].AttributeName) != "postId" {
		t.Errorf("unexpected index action %+v", action)
	}
	if update.AttributeDefinitions[0].AttributeType != types.ScalarAttributeTypeS {
		t.Error("indexed field should be declared as a string")
	}

	if err := s.CreateIndex(ctx, "posts", engine.IndexOptions{Name: "postId"}); !errors.Is(err, engine.ErrIndexExists) {
		t.Errorf("second CreateIndex() error = %v, want ErrIndexExists", err)
	}
}

func TestCreateIndex_AlreadyExistsRemotely(t *testing.T) {
	f := &fakeClient{
		updateTable: func(*dynamodb.UpdateTableInput) (*dynamodb.UpdateTableOutput, error) {
			return nil, &types.ResourceInUseException{Message: aws.String("Attempting to create an index which already exists")}
		},
	}
	s := newTestStore(f)

	err := s.CreateIndex(context.Background(), "posts", engine.IndexOptions{Name: "postId"})
	if !errors.Is(err, engine.ErrIndexExists) {
		t.Fatalf("CreateIndex() error = %v, want ErrIndexExists", err)
	}
}

func TestCreateIndex_Multi(t *testing.T) {
	f := &fakeClient{}
	s := newTestStore(f)

	if err := s.CreateIndex(context.Background(), "posts", engine.IndexOptions{Name: "pair", Multi: true}); err != nil {
		t.Fatalf("CreateIndex() error = %v", err)
	}
	if calls := f.Calls(); len(calls) != 0 {
		t.Errorf("multi index should not call DynamoDB, got %v", calls)
	}
}

func TestInsert_Single(t *testing.T) {
	var got *dynamodb.PutItemInput
	f := &fakeClient{
		putItem: func(in *dynamodb.PutItemInput) (*dynamodb.PutItemOutput, error) {
			got = in
			return &dynamodb.PutItemOutput{}, nil
		},
	}
	s := newTestStore(f)

	res, err := s.Insert(context.Background(), "posts", []engine.Row{{"title": "hi", "authorId": 7}}, engine.WriteOptions{ReturnChanges: true})
	if err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
	if res.Inserted != 1 || len(res.Changes) != 1 {
		t.Fatalf("result = %+v", res)
	}
	if aws.ToString(got.ConditionExpression) != "attribute_not_exists(#pk)" {
		t.Errorf("ConditionExpression = %q", aws.ToString(got.ConditionExpression))
	}
	if id, _ := res.Changes[0].New["id"].(string); id == "" {
		t.Error("insert should generate a primary key")
	}
	if res.Changes[0].New["authorId"] != "7" {
		t.Errorf("authorId = %#v, want the string form of the key", res.Changes[0].New["authorId"])
	}
}

func TestInsert_Duplicate(t *testing.T) {
	f := &fakeClient{
		putItem: func(*dynamodb.PutItemInput) (*dynamodb.PutItemOutput, error) {
			return nil, &types.ConditionalCheckFailedException{}
		},
	}
	s := newTestStore(f)

	res, err := s.Insert(context.Background(), "posts", []engine.Row{{"id": "p1"}}, engine.WriteOptions{})
	if err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
	if res.Errors != 1 || res.FirstError != "Duplicate primary key `id`: p1" {
		t.Errorf("result = %+v", res)
	}
}

func TestInsert_Batch(t *testing.T) {
	var sizes []int
	f := &fakeClient{
		transactWriteItems: func(in *dynamodb.TransactWriteItemsInput) (*dynamodb.TransactWriteItemsOutput, error) {
			sizes = append(sizes, len(in.TransactItems))
			return &dynamodb.TransactWriteItemsOutput{}, nil
		},
	}
	s := newTestStore(f)
	s.config.MaxTransactItems = 2

	rows := []engine.Row{{"id": "a"}, {"id": "b"}, {"id": "c"}}
	res, err := s.Insert(context.Background(), "posts", rows, engine.WriteOptions{ReturnChanges: true})
	if err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
	if diff := cmp.Diff([]int{2, 1}, sizes); diff != "" {
		t.Errorf("transaction sizes mismatch (-want +got):\n%s", diff)
	}
	var ids []any
	for _, c := range res.Changes {
		ids = append(ids, c.New["id"])
	}
	if diff := cmp.Diff([]any{"a", "b", "c"}, ids); diff != "" {
		t.Errorf("change order mismatch (-want +got):\n%s", diff)
	}
	if res.Inserted != 3 {
		t.Errorf("Inserted = %d, want 3", res.Inserted)
	}
}

func TestInsert_BatchConflict(t *testing.T) {
	f := &fakeClient{
		transactWriteItems: func(in *dynamodb.TransactWriteItemsInput) (*dynamodb.TransactWriteItemsOutput, error) {
			return nil, &types.TransactionCanceledException{
				CancellationReasons: []types.CancellationReason{
					{Code: aws.String("None")},
					{Code: aws.String("ConditionalCheckFailed")},
					{Code: aws.String("None")},
				},
			}
		},
	}
	s := newTestStore(f)

	rows := []engine.Row{{"id": "a"}, {"id": "b"}, {"id": "c"}}
	res, err := s.Insert(context.Background(), "posts", rows, engine.WriteOptions{ReturnChanges: true})
	if err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
	if res.Errors != 1 || res.Skipped != 2 || res.Inserted != 0 {
		t.Errorf("result = %+v", res)
	}
	if res.FirstError != "Duplicate primary key `id`: b" {
		t.Errorf("FirstError = %q", res.FirstError)
	}
}

func TestInsert_BatchOtherFailure(t *testing.T) {
	f := &fakeClient{
		transactWriteItems: func(*dynamodb.TransactWriteItemsInput) (*dynamodb.TransactWriteItemsOutput, error) {
			return nil, &types.TransactionCanceledException{
				CancellationReasons: []types.CancellationReason{{Code: aws.String("ThrottlingError")}, {Code: aws.String("None")}},
			}
		},
	}
	s := newTestStore(f)

	_, err := s.Insert(context.Background(), "posts", []engine.Row{{"id": "a"}, {"id": "b"}}, engine.WriteOptions{})
	var txErr *types.TransactionCanceledException
	if !errors.As(err, &txErr) {
		t.Errorf("Insert() error = %v, want the transaction error", err)
	}
}

func TestReplace(t *testing.T) {
	f := &fakeClient{
		putItem: func(in *dynamodb.PutItemInput) (*dynamodb.PutItemOutput, error) {
			if in.ConditionExpression != nil {
				t.Error("replace should not be conditional")
			}
			return &dynamodb.PutItemOutput{Attributes: map[string]types.AttributeValue{
				"id": str("p1"), "title": str("old"),
			}}, nil
		},
	}
	s := newTestStore(f)

	res, err := s.Replace(context.Background(), "posts", "p1", engine.Row{"title": "new"}, engine.WriteOptions{ReturnChanges: true})
	if err != nil {
		t.Fatalf("Replace() error = %v", err)
	}
	if res.Replaced != 1 {
		t.Errorf("result = %+v", res)
	}
	want := engine.Change{
		Old: engine.Row{"id": "p1", "title": "old"},
		New: engine.Row{"id": "p1", "title": "new"},
	}
	if diff := cmp.Diff(want, res.Changes[0]); diff != "" {
		t.Errorf("change mismatch (-want +got):\n%s", diff)
	}
}

func TestReplace_KeyChange(t *testing.T) {
	s := newTestStore(&fakeClient{})

	res, err := s.Replace(context.Background(), "posts", "p1", engine.Row{"id": "p2"}, engine.WriteOptions{})
	if err != nil {
		t.Fatalf("Replace() error = %v", err)
	}
	if res.Errors != 1 {
		t.Errorf("result = %+v", res)
	}
}

func TestGet(t *testing.T) {
	f := &fakeClient{
		getItem: func(in *dynamodb.GetItemInput) (*dynamodb.GetItemOutput, error) {
			if !aws.ToBool(in.ConsistentRead) {
				t.Error("Get should read consistently")
			}
			key := in.Key["id"].(*types.AttributeValueMemberS).Value
			if key != "p1" {
				return &dynamodb.GetItemOutput{}, nil
			}
			return &dynamodb.GetItemOutput{Item: map[string]types.AttributeValue{
				"id": str("p1"), "views": &types.AttributeValueMemberN{Value: "3"},
			}}, nil
		},
	}
	s := newTestStore(f)
	ctx := context.Background()

	row, err := s.Get(ctx, "posts", "p1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if diff := cmp.Diff(engine.Row{"id": "p1", "views": float64(3)}, row); diff != "" {
		t.Errorf("row mismatch (-want +got):\n%s", diff)
	}

	if _, err := s.Get(ctx, "posts", "p2"); !errors.Is(err, engine.ErrNotFound) {
		t.Errorf("Get() error = %v, want ErrNotFound", err)
	}
}

func TestGetAll_Index(t *testing.T) {
	var got []*dynamodb.QueryInput
	f := &fakeClient{
		query: func(in *dynamodb.QueryInput) (*dynamodb.QueryOutput, error) {
			got = append(got, in)
			v := in.ExpressionAttributeValues[":v"].(*types.AttributeValueMemberS).Value
			if in.ExclusiveStartKey == nil {
				return &dynamodb.QueryOutput{
					Items:            []map[string]types.AttributeValue{{"id": str("p1"), "authorId": str(v)}},
					LastEvaluatedKey: map[string]types.AttributeValue{"id": str("p1")},
				}, nil
			}
			return &dynamodb.QueryOutput{
				Items: []map[string]types.AttributeValue{{"id": str("p2"), "authorId": str(v)}},
			}, nil
		},
	}
	s := newTestStore(f)

	rows, err := s.GetAll(context.Background(), "posts", "authorId", "u1")
	if err != nil {
		t.Fatalf("GetAll() error = %v", err)
	}
	want := []engine.Row{
		{"id": "p1", "authorId": "u1"},
		{"id": "p2", "authorId": "u1"},
	}
	if diff := cmp.Diff(want, rows); diff != "" {
		t.Errorf("rows mismatch (-want +got):\n%s", diff)
	}
	if len(got) != 2 {
		t.Fatalf("queried %d pages, want 2", len(got))
	}
	if aws.ToString(got[0].IndexName) != "authorId" || aws.ToString(got[0].TableName) != "test_posts" {
		t.Errorf("unexpected query input %+v", got[0])
	}
}

func TestGetAll_Multi(t *testing.T) {
	var got *dynamodb.ScanInput
	f := &fakeClient{
		scan: func(in *dynamodb.ScanInput) (*dynamodb.ScanOutput, error) {
			got = in
			return &dynamodb.ScanOutput{Items: []map[string]types.AttributeValue{
				{"id": str("p1"), "tags": &types.AttributeValueMemberL{Value: []types.AttributeValue{str("go")}}},
			}}, nil
		},
	}
	s := newTestStore(f)

	rows, err := s.GetAll(context.Background(), "posts", "tags", "go")
	if err != nil {
		t.Fatalf("GetAll() error = %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("got %d rows, want 1", len(rows))
	}
	if aws.ToString(got.FilterExpression) != "contains(#k, :v)" || got.ExpressionAttributeNames["#k"] != "tags" {
		t.Errorf("unexpected scan input %+v", got)
	}
}

func TestGetAll_UnknownIndex(t *testing.T) {
	s := newTestStore(&fakeClient{})

	_, err := s.GetAll(context.Background(), "posts", "missing", "x")
	if !errors.Is(err, engine.ErrIndexNotFound) {
		t.Errorf("GetAll() error = %v, want ErrIndexNotFound", err)
	}
}

func TestDeleteAll(t *testing.T) {
	var deleted []string
	f := &fakeClient{
		getItem: func(in *dynamodb.GetItemInput) (*dynamodb.GetItemOutput, error) {
			key := in.Key["id"].(*types.AttributeValueMemberS).Value
			if key == "gone" {
				return &dynamodb.GetItemOutput{}, nil
			}
			return &dynamodb.GetItemOutput{Item: map[string]types.AttributeValue{"id": str(key)}}, nil
		},
		deleteItem: func(in *dynamodb.DeleteItemInput) (*dynamodb.DeleteItemOutput, error) {
			key := in.Key["id"].(*types.AttributeValueMemberS).Value
			deleted = append(deleted, key)
			return &dynamodb.DeleteItemOutput{Attributes: in.Key}, nil
		},
	}
	s := newTestStore(f)

	res, err := s.DeleteAll(context.Background(), "posts", "", "p1", "gone", "p2", "p1")
	if err != nil {
		t.Fatalf("DeleteAll() error = %v", err)
	}
	if res.Deleted != 2 {
		t.Errorf("Deleted = %d, want 2", res.Deleted)
	}
	if diff := cmp.Diff([]string{"p1", "p2"}, deleted); diff != "" {
		t.Errorf("deleted keys mismatch (-want +got):\n%s", diff)
	}
}

func TestUnset(t *testing.T) {
	var got *dynamodb.UpdateItemInput
	f := &fakeClient{
		query: func(*dynamodb.QueryInput) (*dynamodb.QueryOutput, error) {
			return &dynamodb.QueryOutput{Items: []map[string]types.AttributeValue{
				{"id": str("p1"), "authorId": str("u1"), "title": str("x")},
			}}, nil
		},
		updateItem: func(in *dynamodb.UpdateItemInput) (*dynamodb.UpdateItemOutput, error) {
			got = in
			return &dynamodb.UpdateItemOutput{Attributes: map[string]types.AttributeValue{
				"id": str("p1"), "title": str("x"),
			}}, nil
		},
	}
	s := newTestStore(f)

	res, err := s.Unset(context.Background(), "posts", "authorId", "u1", "id", "authorId")
	if err != nil {
		t.Fatalf("Unset() error = %v", err)
	}
	if res.Replaced != 1 {
		t.Errorf("result = %+v", res)
	}
	if aws.ToString(got.UpdateExpression) != "REMOVE #attr0" {
		t.Errorf("UpdateExpression = %q", aws.ToString(got.UpdateExpression))
	}
	if got.ExpressionAttributeNames["#attr0"] != "authorId" {
		t.Errorf("names = %v", got.ExpressionAttributeNames)
	}
}

func TestUnset_RowGone(t *testing.T) {
	f := &fakeClient{
		query: func(*dynamodb.QueryInput) (*dynamodb.QueryOutput, error) {
			return &dynamodb.QueryOutput{Items: []map[string]types.AttributeValue{
				{"id": str("p1"), "authorId": str("u1")},
			}}, nil
		},
		updateItem: func(*dynamodb.UpdateItemInput) (*dynamodb.UpdateItemOutput, error) {
			return nil, &types.ConditionalCheckFailedException{}
		},
	}
	s := newTestStore(f)

	res, err := s.Unset(context.Background(), "posts", "authorId", "u1", "authorId")
	if err != nil {
		t.Fatalf("Unset() error = %v", err)
	}
	if res.Skipped != 1 {
		t.Errorf("result = %+v", res)
	}
}

func TestChanges_PublishesWrites(t *testing.T) {
	f := &fakeClient{
		getItem: func(*dynamodb.GetItemInput) (*dynamodb.GetItemOutput, error) {
			return &dynamodb.GetItemOutput{}, nil
		},
		putItem: func(*dynamodb.PutItemInput) (*dynamodb.PutItemOutput, error) {
			return &dynamodb.PutItemOutput{}, nil
		},
	}
	s := newTestStore(f)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	feed, err := s.Changes(ctx, "posts", engine.ChangesOptions{Key: "p1", IncludeInitial: true})
	if err != nil {
		t.Fatalf("Changes() error = %v", err)
	}
	defer feed.Close()

	initial, err := feed.Next(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !initial.Initial || initial.New != nil {
		t.Errorf("initial change = %+v, want an empty initial change", initial)
	}

	if _, err := s.Insert(ctx, "posts", []engine.Row{{"id": "other"}}, engine.WriteOptions{}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Insert(ctx, "posts", []engine.Row{{"id": "p1", "title": "hi"}}, engine.WriteOptions{}); err != nil {
		t.Fatal(err)
	}

	c, err := feed.Next(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(engine.Row{"id": "p1", "title": "hi"}, c.New); diff != "" {
		t.Errorf("change mismatch (-want +got):\n%s", diff)
	}

	feed.Close()
	if n := s.Hub().Subscribers(); n != 0 {
		t.Errorf("Subscribers() = %d after close, want 0", n)
	}
}

func TestChanges_PublishDisabled(t *testing.T) {
	f := &fakeClient{
		putItem: func(*dynamodb.PutItemInput) (*dynamodb.PutItemOutput, error) {
			return &dynamodb.PutItemOutput{}, nil
		},
	}
	publish := false
	s := New(f, Config{PublishWrites: &publish})
	s.remember("posts", &tableInfo{pk: "id", indexes: map[string]indexInfo{}})
	ctx := context.Background()

	feed, err := s.Changes(ctx, "posts", engine.ChangesOptions{})
	if err != nil {
		t.Fatal(err)
	}
	defer feed.Close()

	if _, err := s.Insert(ctx, "posts", []engine.Row{{"id": "p1"}}, engine.WriteOptions{}); err != nil {
		t.Fatal(err)
	}

	s.Hub().Publish("posts", "p2", engine.Change{New: engine.Row{"id": "p2"}})
	c, err := feed.Next(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if c.New["id"] != "p2" {
		t.Errorf("got change for %v, want only the hub-published p2", c.New["id"])
	}
}

func TestToItem(t *testing.T) {
	info := &tableInfo{pk: "id", indexes: map[string]indexInfo{
		"authorId": {field: "authorId"},
		"tags":     {field: "tags", multi: true},
	}}

	item, err := toItem(info, engine.Row{
		"id":       5,
		"authorId": nil,
		"tags":     []any{"a"},
		"score":    1.5,
	})
	if err != nil {
		t.Fatalf("toItem() error = %v", err)
	}

	if _, ok := item["authorId"]; ok {
		t.Error("nil index key should be omitted")
	}
	if id, ok := item["id"].(*types.AttributeValueMemberS); !ok || id.Value != "5" {
		t.Errorf("id = %#v, want string 5", item["id"])
	}
	if _, ok := item["tags"].(*types.AttributeValueMemberL); !ok {
		t.Errorf("tags = %#v, want a list", item["tags"])
	}
	if _, ok := item["score"].(*types.AttributeValueMemberN); !ok {
		t.Errorf("score = %#v, want a number", item["score"])
	}
}

func TestKeyText(t *testing.T) {
	tests := []struct {
		in   any
		want string
	}{
		{"abc", "abc"},
		{5, "5"},
		{5.0, "5"},
		{int64(12), "12"},
		{2.5, "2.5"},
		{[]byte("raw"), "raw"},
		{true, "true"},
	}
	for _, tt := range tests {
		if got := keyText(tt.in); got != tt.want {
			t.Errorf("keyText(%#v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestIndexExists(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"in use", &types.ResourceInUseException{Message: aws.String("index already exists")}, true},
		{"other api error", &types.LimitExceededException{Message: aws.String("too many")}, false},
		{"plain error", errors.New("already exists"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := indexExists(tt.err); got != tt.want {
				t.Errorf("indexExists() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDescribe(t *testing.T) {
	info := describe(&types.TableDescription{
		KeySchema: []types.KeySchemaElement{{AttributeName: aws.String("uid"), KeyType: types.KeyTypeHash}},
		GlobalSecondaryIndexes: []types.GlobalSecondaryIndexDescription{{
			IndexName: aws.String("byOwner"),
			KeySchema: []types.KeySchemaElement{{AttributeName: aws.String("ownerId"), KeyType: types.KeyTypeHash}},
		}},
	})
	if info.pk != "uid" {
		t.Errorf("pk = %q", info.pk)
	}
	if got := info.indexes["byOwner"].field; got != "ownerId" {
		t.Errorf("byOwner field = %q", got)
	}
	if !strings.Contains(strings.Join(info.keyFields(), ","), "ownerId") {
		t.Errorf("keyFields() = %v", info.keyFields())
	}
}

package dynamo

import (
	"context"
	"errors"
	"sync"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
)

var errUnexpected = errors.New("fake: unexpected call")

// fakeClient answers each operation with the matching function field and
// records the operation names in call order.
type fakeClient struct {
	mu    sync.Mutex
	calls []string

	createTable        func(*dynamodb.CreateTableInput) (*dynamodb.CreateTableOutput, error)
	describeTable      func(*dynamodb.DescribeTableInput) (*dynamodb.DescribeTableOutput, error)
	updateTable        func(*dynamodb.UpdateTableInput) (*dynamodb.UpdateTableOutput, error)
	putItem            func(*dynamodb.PutItemInput) (*dynamodb.PutItemOutput, error)
	getItem            func(*dynamodb.GetItemInput) (*dynamodb.GetItemOutput, error)
	deleteItem         func(*dynamodb.DeleteItemInput) (*dynamodb.DeleteItemOutput, error)
	updateItem         func(*dynamodb.UpdateItemInput) (*dynamodb.UpdateItemOutput, error)
	query              func(*dynamodb.QueryInput) (*dynamodb.QueryOutput, error)
	scan               func(*dynamodb.ScanInput) (*dynamodb.ScanOutput, error)
	transactWriteItems func(*dynamodb.TransactWriteItemsInput) (*dynamodb.TransactWriteItemsOutput, error)
}

func (f *fakeClient) record(op string) {
	f.mu.Lock()
	f.calls = append(f.calls, op)
	f.mu.Unlock()
}

func (f *fakeClient) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeClient) CreateTable(_ context.Context, in *dynamodb.CreateTableInput, _ ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error) {
	f.record("CreateTable")
	if f.createTable == nil {
		return nil, errUnexpected
	}
	return f.createTable(in)
}

func (f *fakeClient) DescribeTable(_ context.Context, in *dynamodb.DescribeTableInput, _ ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error) {
	f.record("DescribeTable")
	if f.describeTable == nil {
		return nil, errUnexpected
	}
	return f.describeTable(in)
}

func (f *fakeClient) UpdateTable(_ context.Context, in *dynamodb.UpdateTableInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateTableOutput, error) {
	f.record("UpdateTable")
	if f.updateTable == nil {
		return nil, errUnexpected
	}
	return f.updateTable(in)
}

func (f *fakeClient) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.record("PutItem")
	if f.putItem == nil {
		return nil, errUnexpected
	}
	return f.putItem(in)
}

func (f *fakeClient) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.record("GetItem")
	if f.getItem == nil {
		return nil, errUnexpected
	}
	return f.getItem(in)
}

func (f *fakeClient) DeleteItem(_ context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	f.record("DeleteItem")
	if f.deleteItem == nil {
		return nil, errUnexpected
	}
	return f.deleteItem(in)
}

func (f *fakeClient) UpdateItem(_ context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	f.record("UpdateItem")
	if f.updateItem == nil {
		return nil, errUnexpected
	}
	return f.updateItem(in)
}

func (f *fakeClient) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	f.record("Query")
	if f.query == nil {
		return nil, errUnexpected
	}
	return f.query(in)
}

func (f *fakeClient) Scan(_ context.Context, in *dynamodb.ScanInput, _ ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	f.record("Scan")
	if f.scan == nil {
		return nil, errUnexpected
	}
	return f.scan(in)
}

func (f *fakeClient) TransactWriteItems(_ context.Context, in *dynamodb.TransactWriteItemsInput, _ ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error) {
	f.record("TransactWriteItems")
	if f.transactWriteItems == nil {
		return nil, errUnexpected
	}
	return f.transactWriteItems(in)
}

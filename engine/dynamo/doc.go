// Package dynamo implements engine.Engine on Amazon DynamoDB.
//
// Each model table becomes a DynamoDB table keyed by its primary key field.
// Secondary indexes become global secondary indexes with an ALL projection.
// Multi indexes, which match elements of list attributes, cannot be
// expressed as a GSI and are served by filtered scans instead.
//
// # Keys
//
// Primary keys and indexed fields are stored as strings. Numeric key values
// are rendered without a trailing fraction, so 5 and 5.0 address the same
// row. Rows without a primary key get a random UUID.
//
// # Writes
//
// A single-row insert is a conditional PutItem. Multi-row inserts are written
// with TransactWriteItems in chunks of [Config.MaxTransactItems]; a chunk
// containing an existing key is refused as a whole and reported in
// WriteResult.Errors.
//
// # Change feeds
//
// Feeds are served from a [Hub]. By default the store publishes its own
// writes. In a deployment where several processes write, disable
// [Config.PublishWrites] and feed the hub from DynamoDB Streams through
// [github.com/mbroadst/thinkagain/stream].
package dynamo

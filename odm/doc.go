// Package odm maps documents with relations onto a table-oriented document
// store.
//
// A [DB] holds [Model] definitions. Each model owns a table, a primary key, an
// optional schema [Validator] and a set of joins declared with
// [Model.HasOne], [Model.BelongsTo], [Model.HasMany] and
// [Model.HasAndBelongsToMany]. Many-to-many joins are stored in link tables
// whose rows hold the keys of both sides.
//
// Declaring models and joins schedules table and index creation in the
// background. Every operation first waits for that work through
// [Model.Ready]; a failed step is reported by every later operation on the
// affected models as a [*SetupError].
//
// # Documents
//
// A [Document] holds fields plus the joined documents placed under join
// fields. Saving writes [Document.SavableCopy], which omits joined documents:
//
//	author, _ := users.New(map[string]any{"name": "Ada"})
//	post, _ := posts.New(map[string]any{"title": "Notes"})
//	post.Set("author", author)
//	err := post.SaveAll(ctx) // writes author, copies its id into post.authorId, writes post
//
// [Document.Save] writes one document, [Document.SaveAll] follows every join
// (entering each model once) and [Document.SaveRelated] follows an explicit
// [Tree]. Deletes mirror these with [Document.Delete], [Document.DeleteAll]
// and [Document.DeleteRelated]; [Document.Purge] also removes references held
// by rows that were never loaded.
//
// # Change feeds
//
// [Model.Watch] returns a document kept in sync with its row. [Model.Changes]
// returns a [Feed] over a whole table, consumed with [Feed.Next],
// [Feed.Each] or [Feed.On].
//
// # Errors
//
//   - [*ValidationError] - document failed the model schema
//   - [*DocumentNotFoundError] - point lookup found nothing
//   - [*InvalidWriteError] - the engine refused rows of a write
//   - [*SetupError] - table or index provisioning failed
//   - [ErrInvariant] - the API was misused
package odm

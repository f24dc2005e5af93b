// Package record defines the document model shared by every docsync backend.
//
// # Overview
//
// A Record is a schema-less JSON object addressed by its "id" field within a
// table. Both the local file store and the remote SQL store persist the same
// shape, which lets the sync engine move records between them without any
// per-table schema:
//
//	{
//	  "id": "t1",
//	  "userId": "u1",
//	  "title": "Groceries",
//	  "isDeleted": false,
//	  "createdAt": "2024-01-01T00:00:00Z",
//	  "updatedAt": "2024-01-01T00:00:00Z"
//	}
//
// # Convention Fields
//
//   - id - unique within a table, assigned by the caller
//   - isDeleted - soft-delete flag managed by the stores (default false)
//   - createdAt / updatedAt - ISO-8601 strings; updatedAt drives last-write-wins
//   - _id - backend identity; assigned by the remote store, never copied across backends
//
// Every other field passes through untouched.
//
// # Filters
//
// A Filter maps field names to match conditions:
//
//	record.Filter{"userId": "u1"}                      // exact match
//	record.Filter{"todoId": []any{"t1", "t2"}}         // record value is one of the list
//	record.Filter{"tags": record.In("urgent", "home")} // record array contains any value
//
// Note the direction of In: it tests membership on the record side (the
// record's array field must contain one of the values), not "record scalar
// is one of the values". The plain list form covers the latter.
//
// # Errors
//
// Store failures are reported as *Error with a Kind. Use errors.Is against
// the sentinels:
//
//	if errors.Is(err, record.ErrNotFound) {
//	    // create instead
//	}
package record

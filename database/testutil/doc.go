// Package testutil provides a SQLite-backed database for tests.
//
//	func TestSomething(t *testing.T) {
//	    db := testutil.NewDB(t, taskgraph.Models()...)
//	    // db.WithContext(ctx).Create(...)
//	}
//
// Each call gets its own database file under t.TempDir(), so tests can run in
// parallel without sharing state. The connection pool is limited to one
// connection; code under test must route every statement of a transaction
// through the transaction handle.
package testutil

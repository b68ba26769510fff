// Package staging makes publishing generated files atomic.
//
// A job writes its files into a private staging directory. ApplyToProduction
// then copies that directory next to the live target as "<prod>.new" and
// swaps it into place with two renames, keeping the previous state as a
// backup until the swap succeeds. Publishes to the same target serialize on
// a lock derived from the target id: a PostgreSQL transaction-scoped
// advisory lock, or an flock(2) lock file on single-host deployments.
// A publish that cannot take the lock fails fast with CONCURRENT_APPLY.
package staging

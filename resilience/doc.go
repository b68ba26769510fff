// Package resilience holds the fault-tolerance primitives wrapped around the
// engine's external calls.
//
//   - CircuitBreaker fails agent calls fast while a role's backend is unhealthy.
//   - Retry retries the database connect with exponential backoff.
//   - Bulkhead caps in-flight agent calls per role.
//
// The agent middlewares combine them:
//
//	exec := agent.Chain(
//	    agent.WithCircuitBreaker(resilience.DefaultCircuitBreakerConfig("agent")),
//	    agent.WithConcurrencyLimit(2, 30*time.Second),
//	)(executor)
package resilience

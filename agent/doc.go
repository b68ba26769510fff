// Package agent defines the contract between the engine and the external
// agent executor that performs the actual work of each task.
//
// The engine never implements agent logic. It calls an Executor by role and
// task key with the accumulated input, and treats the returned Payload as
// opaque except for the reserved "_meta" block (usage metrics) and any other
// key starting with "_", which is stripped before the output is persisted.
//
// Cross-cutting behavior is layered with Middleware, in the same way the
// engine's other clients are wrapped:
//
//	exec := agent.Chain(
//	    agent.WithLogging(log),
//	    agent.WithTracing(),
//	    agent.WithMetrics(metrics),
//	    agent.WithTimeout(2*time.Minute),
//	    agent.WithCircuitBreaker(resilience.DefaultCircuitBreakerConfig("agent")),
//	)(executor)
package agent

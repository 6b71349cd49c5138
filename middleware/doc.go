// Package middleware provides composable wrappers around scheduled job
// handlers.
//
// A [Middleware] receives the job and the next handler in the chain.
// [Chain] composes middleware right-to-left, so the first one listed is the
// outermost:
//
//	chain := middleware.Chain(middleware.Logging(logger), middleware.Recover(logger))
//
// Built in: [Logging], [Recover], [Timeout], [Metrics] and [Tracing].
package middleware

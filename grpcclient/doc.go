// Package grpcclient hedges unary gRPC calls.
//
// The interceptor races a primary call against delayed hedges using a
// hedge.Dispatcher and merges the winning reply into the caller's reply.
// Only hedge calls whose methods are idempotent; select them with Methods
// or Services as the policy's ShouldTrack.
//
// Hedge attempts carry their index in the "x-hedge-index" metadata entry,
// so servers can tell hedges apart with HedgeIndexFromIncoming.
package grpcclient

// Package redis implements state.Store on Redis.
//
// Each campaign is a Hash holding the JSON value and an integer revision.
// Put bumps the revision unconditionally; CompareAndSwap uses
// WATCH/MULTI so the write only commits when the revision read inside the
// transaction equals the expected one. A per-agent Set indexes keys for
// List.
//
// The caller owns the client lifecycle:
//
//	client := goredis.NewClient(&goredis.Options{Addr: "localhost:6379"})
//	s := redis.New(client, redis.WithTTL(7*24*time.Hour))
//	if err := s.Ping(ctx); err != nil { ... }
package redis

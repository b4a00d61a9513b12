// Package redis provides a Redis-backed store.RunStore and a distributed
// per-run Locker.
//
// Each run is a hash holding its version, status and encoded snapshot, plus
// membership in a set of run ids used by List. Save checks the version under
// WATCH and writes inside MULTI, so concurrent writers on one version cannot
// both succeed even when they live in different processes.
//
//	rs := redis.NewRedisRunStore(redis.RedisOptions{
//		Addr:   "localhost:6379",
//		Prefix: "email:",
//		TTL:    24 * time.Hour,
//	})
//	locker := redis.NewLocker(rs.Client(), "email:")
//
//	runnable, err := g.Compile(
//		graph.WithStore(rs),
//		graph.WithLocker(locker),
//	)
//
// The Locker uses SET NX PX with a random token and releases through a Lua
// script that deletes the key only while it still holds that token.
package redis

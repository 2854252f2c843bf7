// Package redisbroker implements the queueflow Broker contract on Redis
// using the go-redis client.
//
// Each queue is modeled with a handful of keys under a common prefix:
//
//   - {prefix}:{queue}:job:{id}     — job body as JSON
//   - {prefix}:{queue}:waiting      — zset of claimable job ids scored by
//     the time they become available
//   - {prefix}:{queue}:active       — zset of leased job ids scored by the
//     lease deadline
//   - {prefix}:{queue}:dead         — zset of jobs that exhausted attempts
//   - {prefix}:{queue}:repeat       — hash of recurring registrations
//   - {prefix}:{queue}:repeat:next  — zset of recurring keys scored by the
//     next cron fire time
//
// Claiming is a single Lua script, so concurrent consumers can never lease
// the same job twice, and expired leases are reclaimed on the same round
// trip. Recurring fires are won through an atomic compare-and-reschedule
// script, which keeps the repeatable primitive safe under concurrent
// producers.
//
// # Usage
//
//	client, err := redisbroker.Connect(ctx, cfg)
//	if err != nil {
//	    return err
//	}
//	engine, err := queueflow.New(queueflow.StaticBroker(redisbroker.New(client)))
//
// Configuration is described by the Config struct whose fields can be
// populated from environment variables via github.com/caarlos0/env.
package redisbroker

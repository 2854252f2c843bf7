// Package pgbroker implements the queueflow Broker contract on PostgreSQL
// using the pgx/v5 driver.
//
// Jobs live in the queueflow_jobs table and recurring registrations in
// queueflow_repeatables. Claiming uses FOR UPDATE SKIP LOCKED so concurrent
// consumers never lease the same row, and expired leases become claimable
// again on the same query. Recurring fires are won by updating the entry's
// next_run_at inside a transaction, which keeps the repeatable primitive safe
// under concurrent producers.
//
// # Usage
//
//	pool, err := pgbroker.Connect(ctx, cfg)
//	if err != nil {
//	    return err
//	}
//	if err := pgbroker.Migrate(ctx, pool); err != nil {
//	    return err
//	}
//	engine, err := queueflow.New(queueflow.StaticBroker(pgbroker.New(pool)))
//
// Configuration is described by the Config struct whose fields can be
// populated from environment variables via github.com/caarlos0/env.
package pgbroker

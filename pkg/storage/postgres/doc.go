// Package postgres opens the PostgreSQL and Redis connections shared by the
// organization, entitlement and usage stores, and owns the schema.
//
// Conditional writes go to Primary(). Override lookups may use Replica(),
// which round-robins over healthy replicas and falls back to the primary.
//
//	cm, err := postgres.NewConnectionManager(ctx, cfg, logger)
//	if err != nil {
//		return err
//	}
//	defer cm.Close()
//	if err := postgres.Migrate(ctx, cm.Primary()); err != nil {
//		return err
//	}
package postgres

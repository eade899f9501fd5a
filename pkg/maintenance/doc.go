// Package maintenance runs periodic background jobs on cron schedules.
//
// The server schedules three jobs: an integrity check that verifies no
// (user, permission) slot holds more than one active override, an export of
// new override events to the archive, and a database pool statistics
// snapshot.
//
//	s := maintenance.NewScheduler(logger, 5*time.Minute)
//	s.Add(maintenance.JobIntegrity, "*/15 * * * *", maintenance.IntegrityJob(store, metrics))
//	s.Start()
//	defer s.Stop(ctx)
package maintenance

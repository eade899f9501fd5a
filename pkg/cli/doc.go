// Package cli provides the warden-cli command-line interface for permission
// administration.
//
// # Overview
//
// Every command connects straight to the database. Connection flags default
// to the server's environment variables (WARDEN_DB_DRIVER, WARDEN_DB_URL,
// WARDEN_REDIS_URL). When Redis is configured, changes invalidate the shared
// permission cache so running servers see them immediately; otherwise cached
// entries expire after the cache TTL.
//
// # Commands
//
// migrate: Apply database migrations
//
//	warden-cli migrate -db postgres://localhost/warden
//
// seed: Apply a YAML seed file
//
//	warden-cli seed -file seed.yaml
//
// grant, deny: Set a per-user override (a reason is required)
//
//	warden-cli grant -user alice -permission Product.Delete -actor root -reason "temporary coverage"
//	warden-cli deny -user alice -permission Product.Read -actor root -reason "policy violation"
//
// revoke: Remove the active override for a user and permission
//
//	warden-cli revoke -user alice -permission Product.Read -actor root
//
// explain: Print each permission's source for a user
//
//	warden-cli explain -user alice
//
// token: Issue an API token (printed once)
//
//	warden-cli token -user root -name bootstrap -ttl 720h
package cli

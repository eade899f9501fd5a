// Package audit records administration and authorization events.
//
// Every grant, deny, revoke and role change performed through the rbac
// package produces one event. Audit writes happen after the originating
// transaction commits; a failed audit write is logged and never fails the
// administration call.
//
// Implementations:
//
//   - DBLogger writes to the audit_logs table
//   - SlogLogger writes to the structured application log
//   - MultiLogger fans out to several loggers
//
// Querying the audit trail is left to whatever reads audit_logs.
package audit

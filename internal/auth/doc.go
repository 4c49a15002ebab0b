// Package auth guards the HTTP API with bearer tokens. Each configured token
// carries a set of permissions; requests are written to the audit log.
package auth

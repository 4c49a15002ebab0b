// Package mysql persists the execution log of compiled requests. It provides
// a JSONL file backed repository for local runs and a MySQL repository with
// embedded schema migrations.
package mysql

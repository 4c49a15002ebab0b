// Package api exposes the compiler over HTTP: single requests, simulations,
// batch submission, cache inspection and the execution log.
package api

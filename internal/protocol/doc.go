// Package protocol models the self-description a target process publishes
// (its handlers and their typed parameters) and discovers, validates and
// caches that description per target id.
package protocol

// Package transport defines the message transport the compiler dispatches
// through, together with a JSON-RPC gateway client and a registry of named
// gateways loaded from YAML.
package transport

// Package config loads the ProcessMCP runtime configuration from a JSON file,
// fills defaults for every section and applies environment overrides so the
// same binary can run locally or inside a container.
package config

// Package validate type-checks extracted parameters against a handler's
// declaration, coerces them to their declared types and applies
// operation-specific contract rules expressed in CEL.
package validate

// Package risk scores pending operations, describes their consequences and
// builds the confirmation prompt returned instead of dispatching risky ones.
package risk

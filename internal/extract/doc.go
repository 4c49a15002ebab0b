// Package extract pulls concrete parameter values for a handler out of a
// free-text request. Strategies are tried in a fixed order until one yields a
// parameter set that passes validation.
package extract

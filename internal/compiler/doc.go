// Package compiler contains the orchestrator that turns a free-text request
// and a target process id into an encoded message. It sequences discovery,
// detection, extraction, validation, risk assessment and encoding, and hands
// the result to the transport only after the confirmation gate passes.
package compiler

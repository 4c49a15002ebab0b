// Package encoding decides how parameters travel on an outgoing message
// (as tags, as a serialized data payload, or split between the two) and
// builds the message accordingly.
package encoding

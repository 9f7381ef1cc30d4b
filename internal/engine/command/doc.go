// Package command defines the command envelope, the command-type registry,
// and validation entry points for the write path.
//
// Commands are requests to change one aggregate. The registry validates type
// and addressing before a decider turns an accepted command into events; the
// payload stays opaque to the engine beyond the declared validator.
package command

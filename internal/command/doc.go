// Package command binds rpc command codes to scheduler operations: the
// Dispatcher serves them, the Client issues them.
package command

// Package handoff moves task blocks from the global scheduler to site
// schedulers over a unix socket.
//
// The exchange per block is request, deliver, acknowledge. A block handed to
// one connection is never offered to another; if the connection fails before
// the acknowledgement arrives the block is dropped and the loss is logged.
package handoff

// Package transport
// Author: momentics <momentics@gmail.com>
//
// Outbound side of a connection: an ordered queue of encoded buffers that
// is flushed into a non-blocking api.Transport with vectored writes.
//
// The scheduler never blocks and never drops data on its own. When the
// socket cannot take more bytes the remainder stays queued and Pending
// reports how much memory is held, so the owner can throttle reads.
package transport

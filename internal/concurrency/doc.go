// File: internal/concurrency/doc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Worker pool used to move blocking handler work off the event loops.
// Results travel back to a loop through its Post method.
package concurrency

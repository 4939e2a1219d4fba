//go:build !linux

// File: affinity/affinity_other.go
// Author: momentics <momentics@gmail.com>

package affinity

import "errors"

var errUnsupported = errors.New("affinity: not supported on this platform")

func pin(int) error { return errUnsupported }

// Allowed is not available off Linux.
func Allowed() ([]int, error) { return nil, errUnsupported }

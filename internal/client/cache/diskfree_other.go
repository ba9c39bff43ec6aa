//go:build !linux && !darwin && !freebsd

package cache

import "errors"

var errFreeSpaceUnsupported = errors.New("free space probe not supported on this platform")

func FreeSpace(string) (uint64, error) {
	return 0, errFreeSpaceUnsupported
}

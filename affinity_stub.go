//go:build !linux

package blkreactor

import "errors"

// pinToCore is unsupported off Linux; reactors run unpinned there.
func pinToCore(core int) error {
	return errors.New("core pinning not supported on this platform")
}

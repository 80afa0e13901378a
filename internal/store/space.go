package store

import (
	"fmt"
	"path/filepath"

	"github.com/shirou/gopsutil/v3/disk"
)

// checkFreeSpace fails with ErrAllocation when the filesystem holding path
// cannot fit need more bytes. If usage cannot be queried the check passes and
// allocation itself reports the failure.
func checkFreeSpace(path string, need int64) error {
	du, err := disk.Usage(filepath.Dir(path))
	if err != nil {
		return nil
	}
	if need > 0 && uint64(need) > du.Free {
		return fmt.Errorf("%w: need %d bytes, %d free on %s", ErrAllocation, need, du.Free, du.Path)
	}
	return nil
}

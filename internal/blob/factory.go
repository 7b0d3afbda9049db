package blob

import (
	"fmt"

	"drawerstore/internal/infra/blob/fs"
	memorystore "drawerstore/internal/infra/blob/memory"
)

// Open selects a blob.Store implementation by driver name. An empty driver
// selects the filesystem store rooted at root; the memory driver ignores
// root.
func Open(driver, root string) (Store, error) {
	if driver == "" {
		driver = string(DriverFilesystem)
	}
	switch Driver(driver) {
	case DriverFilesystem:
		s, err := fs.New(root)
		if err != nil {
			return nil, err
		}
		return s, nil
	case DriverMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown blob driver %s", driver)
	}
}

// NewMemory returns an empty in-process store.
func NewMemory() Store { return memorystore.New() }

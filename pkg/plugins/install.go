package plugins

import "sync"

var (
	// installed is the process-wide registry
	installed *Registry
	// installMu protects installed
	installMu sync.RWMutex
)

// Install makes r the process-wide registry. Only one registry may be
// installed at a time.
func Install(r *Registry) error {
	installMu.Lock()
	defer installMu.Unlock()

	if installed != nil {
		return ErrRegistryInstalled
	}
	installed = r
	return nil
}

// Installed returns the process-wide registry, or nil
func Installed() *Registry {
	installMu.RLock()
	defer installMu.RUnlock()

	return installed
}

// Uninstall clears the process-wide registry if it is r
func Uninstall(r *Registry) {
	installMu.Lock()
	defer installMu.Unlock()

	if installed == r {
		installed = nil
	}
}

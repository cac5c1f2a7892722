package cryptox

import (
	"os"
	"strings"
	"sync"
)

var (
	pepperMu sync.RWMutex
	pepper   string
)

// SetPepper sets a process-wide pepper appended to passwords before hashing.
// Call once at startup, before any password is hashed or verified; changing
// the pepper invalidates every stored hash.
func SetPepper(p string) {
	pepperMu.Lock()
	defer pepperMu.Unlock()
	pepper = p
}

// LoadPepperFile reads the pepper from a file. Surrounding whitespace is
// trimmed so a trailing newline in the file doesn't silently change hashes.
func LoadPepperFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	SetPepper(strings.TrimSpace(string(b)))
	return nil
}

// GetPepper returns the configured pepper, or "" if none was set.
func GetPepper() string {
	pepperMu.RLock()
	defer pepperMu.RUnlock()
	return pepper
}

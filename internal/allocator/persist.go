package allocator

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	golibserrors "github.com/AdguardTeam/golibs/errors"

	"github.com/haldane-systems/dhcpauthd/internal/lease"
)

const (
	allocationsFile = "allocations.json"
	leasesFile      = "leases.json"
)

// LoadFrom populates a from the allocations.json/leases.json pair in dir,
// per spec.md §4.3/§6.3: allocations are loaded first and marked used in
// the pool; leases are loaded second and kept only if still active as of
// the allocator's clock, with any lease whose allocation no longer exists
// silently dropped along with it.
//
// A missing dir, or a missing file within it, is not an error. A malformed
// file is.
func (a *Allocator) LoadFrom(dir string) (err error) {
	defer func() { err = golibserrors.Annotate(err, "loading allocator state: %w") }()

	allocations, err := readJSONFile[[]lease.Allocation](filepath.Join(dir, allocationsFile))
	if err != nil {
		return fmt.Errorf("reading %s: %w", allocationsFile, err)
	}

	for _, alloc := range allocations {
		a.pool.SetUsed(alloc.Assigned)
		a.allocations = append(a.allocations, alloc)
	}

	leases, err := readJSONFile[[]lease.Lease](filepath.Join(dir, leasesFile))
	if err != nil {
		return fmt.Errorf("reading %s: %w", leasesFile, err)
	}

	now := a.clock.Now()
	for _, l := range leases {
		if !a.hasAllocationFor(l) {
			continue
		}
		if !l.IsActive(now) {
			continue
		}
		a.leases = append(a.leases, l)
	}

	return nil
}

func (a *Allocator) hasAllocationFor(l lease.Lease) bool {
	for _, alloc := range a.allocations {
		if l.CoversAllocation(alloc) {
			return true
		}
	}
	return false
}

// SaveTo writes allocations.json and leases.json into dir, creating it (and
// any missing parents) first. Failure to write one file is reported but
// does not prevent an attempt at the other, per spec.md §4.3.
func (a *Allocator) SaveTo(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return golibserrors.Annotate(err, "creating allocator state dir: %w")
	}

	allocations := a.allocations
	if allocations == nil {
		allocations = []lease.Allocation{}
	}
	leases := a.leases
	if leases == nil {
		leases = []lease.Lease{}
	}

	allocErr := writeJSONFile(filepath.Join(dir, allocationsFile), allocations)
	leaseErr := writeJSONFile(filepath.Join(dir, leasesFile), leases)

	return errors.Join(allocErr, leaseErr)
}

func readJSONFile[T any](path string) (T, error) {
	var zero T

	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return zero, nil
		}
		return zero, err
	}

	var doc T
	if err := json.Unmarshal(b, &doc); err != nil {
		return zero, err
	}
	return doc, nil
}

func writeJSONFile(path string, doc any) error {
	b, err := json.Marshal(doc)
	if err != nil {
		return golibserrors.Annotate(err, "encoding "+filepath.Base(path)+": %w")
	}

	if err := os.WriteFile(path, b, 0o644); err != nil {
		return golibserrors.Annotate(err, "writing "+filepath.Base(path)+": %w")
	}
	return nil
}

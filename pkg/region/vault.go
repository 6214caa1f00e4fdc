package region

import (
	"context"
	"errors"
	"fmt"
	"sort"

	cmap "github.com/orcaman/concurrent-map/v2"
)

// Sealed is what a Vault keeps: a named cell of any value type.
type Sealed interface {
	Name() string
	Verify() error
	Close(ctx context.Context) error
}

var _ Sealed = (*Cell[struct{ A int }])(nil)

// Vault is a registry of named cells.
type Vault struct {
	cells cmap.ConcurrentMap[string, Sealed]
}

// NewVault returns an empty Vault.
func NewVault() *Vault {
	return &Vault{cells: cmap.New[Sealed]()}
}

// Register adds c under c.Name().
func (v *Vault) Register(c Sealed) error {
	if !v.cells.SetIfAbsent(c.Name(), c) {
		return fmt.Errorf("%w: %s", ErrDuplicateName, c.Name())
	}
	return nil
}

// Lookup returns the cell registered under name.
func (v *Vault) Lookup(name string) (Sealed, bool) {
	return v.cells.Get(name)
}

// LookupCell returns the cell registered under name when it holds a T.
func LookupCell[T any](v *Vault, name string) (*Cell[T], bool) {
	s, ok := v.cells.Get(name)
	if !ok {
		return nil, false
	}
	c, ok := s.(*Cell[T])
	return c, ok
}

// Remove unregisters name without closing the cell.
func (v *Vault) Remove(name string) (Sealed, bool) {
	return v.cells.Pop(name)
}

// Names returns the registered names in order.
func (v *Vault) Names() []string {
	names := v.cells.Keys()
	sort.Strings(names)
	return names
}

// Len returns the number of registered cells.
func (v *Vault) Len() int {
	return v.cells.Count()
}

// VerifyAll verifies every registered cell and joins the failures.
func (v *Vault) VerifyAll() error {
	var errs []error
	for _, name := range v.Names() {
		c, ok := v.cells.Get(name)
		if !ok {
			continue
		}
		if err := c.Verify(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// Close unregisters and closes every cell.
func (v *Vault) Close(ctx context.Context) error {
	var errs []error
	for _, name := range v.Names() {
		c, ok := v.cells.Pop(name)
		if !ok {
			continue
		}
		if err := c.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

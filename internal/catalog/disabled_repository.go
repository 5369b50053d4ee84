package catalog

import (
	"context"
)

// DisabledRepository is a no-op source for when the catalog is disabled.
// Every basket UPC resolves as unknown tobacco and no allowances apply.
type DisabledRepository struct{}

// NewDisabledRepository creates a disabled repository.
func NewDisabledRepository() *DisabledRepository {
	return &DisabledRepository{}
}

// ListEntries returns an empty list when the catalog is disabled.
func (r *DisabledRepository) ListEntries(_ context.Context) ([]Entry, error) {
	return []Entry{}, nil
}

// ListAllowances returns an empty list when the catalog is disabled.
func (r *DisabledRepository) ListAllowances(_ context.Context) ([]AllowanceRule, error) {
	return []AllowanceRule{}, nil
}

// Close is a no-op when the catalog is disabled.
func (r *DisabledRepository) Close() error {
	return nil
}

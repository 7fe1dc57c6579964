package archive

import (
	"context"

	"github.com/iruzo/rimap/filter"
)

// Lister enumerates mailboxes.
type Lister interface {
	ListMailboxes(ctx context.Context) ([]string, error)
}

// ListMailboxes returns the names of all mailboxes at any depth, in the order
// the server sent them, minus those f rejects. f may be nil. No mailboxes is
// not an error.
func ListMailboxes(ctx context.Context, l Lister, f *filter.Filter) ([]string, error) {
	names, err := l.ListMailboxes(ctx)
	if err != nil {
		return nil, err
	}

	kept := make([]string, 0, len(names))
	for _, name := range names {
		if f == nil || f.Allows(name) {
			kept = append(kept, name)
		}
	}
	return kept, nil
}

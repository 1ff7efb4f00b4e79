package resolution

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/storydesk/storydesk/internal/corpus"
	"github.com/storydesk/storydesk/internal/storage"
	"github.com/storydesk/storydesk/internal/types"
)

// Writer commits resolutions. Each item's resolution fields, its index entry
// (NEW only) and the merge or append on its canonical share one transaction,
// taken under the corpus write lock.
type Writer struct {
	store storage.Storage
	index *corpus.Index
}

// NewWriter creates a writer
func NewWriter(store storage.Storage, index *corpus.Index) *Writer {
	return &Writer{store: store, index: index}
}

// Apply commits the change. On error nothing is written and the item stays UNRESOLVED.
func (w *Writer) Apply(ctx context.Context, change *types.ResolutionChange) (*types.ContentItem, error) {
	var hook func(context.Context, *sql.Tx, *types.ContentItem) error
	if change.Resolution == types.ResolutionNew {
		hook = w.index.InsertTx
	}

	var resolved *types.ContentItem
	err := w.index.Exclusive(func() error {
		var err error
		resolved, err = w.store.ApplyResolution(ctx, change, hook)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to write %s for %s: %w", change.Resolution, change.ItemID, err)
	}
	return resolved, nil
}

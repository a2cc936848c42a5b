package itemservice

import (
	"context"

	"github.com/google/uuid"

	"github.com/notesync/syncing-api/internal/item"
	"github.com/notesync/syncing-api/internal/repo"
)

// selectUUIDsForTransfer walks the (uuid, content_size) projection of
// the query in stream order, accumulating size until the byte budget
// would be exceeded. The first deliverable item is always included even
// when it busts the budget, so oversized items still make forward
// progress.
//
// boundary, when non-nil, is the decoded cursor instant of an inclusive
// (>=) read. The item sitting exactly on it was the tail of the
// previous page: it is billed against the budget but not delivered
// again, so page boundaries land where they would have had the stream
// been read in one pass.
//
// The second return reports whether the budget cut the stream short of
// what the query's limit would have delivered.
func selectUUIDsForTransfer(ctx context.Context, items repo.ItemRepository, q item.Query, budget int64, boundary *int64) ([]uuid.UUID, bool, error) {
	projections, err := items.FindContentSizes(ctx, q)
	if err != nil {
		return nil, false, err
	}

	selected := make([]uuid.UUID, 0, len(projections))
	var total int64
	skipped := 0
	for _, p := range projections {
		if boundary != nil && p.UpdatedAtTimestamp == *boundary {
			total += p.ContentSize
			skipped++
			continue
		}
		if total+p.ContentSize > budget {
			if len(selected) == 0 {
				selected = append(selected, p.UUID)
			}
			break
		}
		total += p.ContentSize
		selected = append(selected, p.UUID)
	}

	return selected, len(selected) < len(projections)-skipped, nil
}

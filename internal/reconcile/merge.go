package reconcile

import "github.com/raphaelgruber/switchboard/internal/models"

// Merge combines persisted history with locally pending records: history
// first in its own order, then every pending record whose id is not in the
// history, in pending order. Duplicate ids keep their first occurrence.
// Neither input is modified.
func Merge(authoritative, pending []models.Message) []models.Message {
	out := make([]models.Message, 0, len(authoritative)+len(pending))
	seen := make(map[string]bool, len(authoritative)+len(pending))
	for _, list := range [][]models.Message{authoritative, pending} {
		for _, m := range list {
			if seen[m.ID] {
				continue
			}
			seen[m.ID] = true
			out = append(out, m)
		}
	}
	return out
}

package statesync

import (
	"strings"

	"github.com/roomfabric/engine/internal/signal"
)

func isDelete(v any) bool { return signal.IsDelete(v) }

// foldSnapshot applies a single dotted-path change to the cumulative
// snapshot map, honoring delete semantics: assigning the delete
// sentinel removes the key itself and any keys nested beneath it
// (spec §4.2 "honoring delete semantics").
func foldSnapshot(snapshot map[string]any, path string, v any) {
	if isDelete(v) {
		delete(snapshot, path)
		prefix := path + "."
		for k := range snapshot {
			if strings.HasPrefix(k, prefix) {
				delete(snapshot, k)
			}
		}
		return
	}
	snapshot[path] = v
}

// Expand folds a flat dotted-path map into a nested tree, the shape
// the wire protocol sends as a sync payload (spec §4.2 "fold
// semantics"). Delete-sentinel leaves are preserved as-is so the
// transport layer can encode them as the "$delete" marker.
func Expand(flat map[string]any) map[string]any {
	root := make(map[string]any)
	for path, v := range flat {
		segments := strings.Split(path, ".")
		cur := root
		for i, seg := range segments {
			if i == len(segments)-1 {
				cur[seg] = v
				break
			}
			next, ok := cur[seg].(map[string]any)
			if !ok {
				next = make(map[string]any)
				cur[seg] = next
			}
			cur = next
		}
	}
	return root
}

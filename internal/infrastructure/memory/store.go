// Package memory holds in-process implementations of the stores, the dispatch
// queue, the audience directory and the snapshot store. They back local runs
// (STORE_BACKEND=memory, QUEUE_BACKEND=memory) and engine tests.
package memory

import (
	"encoding/json"
	"fmt"
	"sort"
)

// clone deep-copies v so callers never share memory with the store.
func clone[T any](v *T) *T {
	b, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("memory: clone %T: %v", v, err))
	}
	out := new(T)
	if err := json.Unmarshal(b, out); err != nil {
		panic(fmt.Sprintf("memory: clone %T: %v", v, err))
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

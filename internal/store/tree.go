package store

// Navigate walks an encoded JSON tree to the node at path.
func Navigate(tree any, path string) (any, bool) {
	cur := tree
	for _, seg := range Split(path) {
		m, isMap := cur.(map[string]any)
		if !isMap {
			return nil, false
		}
		child, found := m[seg]
		if !found {
			return nil, false
		}
		cur = child
	}
	return cur, true
}

// Place sets the node at path inside root, materializing intermediate maps
// and replacing non-map intermediates. A nil value deletes the node. An
// empty path replaces root's contents when value is a map, or clears them
// when value is nil.
func Place(root map[string]any, path string, value any) {
	segs := Split(path)
	if len(segs) == 0 {
		for k := range root {
			delete(root, k)
		}
		if m, ok := value.(map[string]any); ok {
			for k, v := range m {
				root[k] = v
			}
		}
		return
	}
	cur := root
	for _, seg := range segs[:len(segs)-1] {
		child, ok := cur[seg].(map[string]any)
		if !ok {
			child = make(map[string]any)
			cur[seg] = child
		}
		cur = child
	}
	last := segs[len(segs)-1]
	if value == nil {
		delete(cur, last)
		return
	}
	cur[last] = value
}

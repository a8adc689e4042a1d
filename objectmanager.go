package dbus

import (
	"context"
	"slices"
	"sort"
	"strings"
)

// subtreeLocked returns the sorted-path-index range of exported
// object paths at or below path, found by binary search rather than
// a linear scan of every exported object. r.mu must be held.
func (r *ServiceRouter) subtreeLocked(path ObjectPath) []ObjectPath {
	prefix := string(path)
	if prefix != "/" {
		prefix += "/"
	}
	lo := sort.Search(len(r.paths), func(i int) bool { return string(r.paths[i]) >= string(path) })
	hi := lo
	for hi < len(r.paths) {
		p := string(r.paths[hi])
		if p != string(path) && !strings.HasPrefix(p, prefix) {
			break
		}
		hi++
	}
	return r.paths[lo:hi]
}

// insertPathLocked adds path to the sorted path index. r.mu must be
// held, and path must not already be present.
func (r *ServiceRouter) insertPathLocked(path ObjectPath) {
	i := sort.Search(len(r.paths), func(i int) bool { return r.paths[i] >= path })
	r.paths = slices.Insert(r.paths, i, path)
}

// removePathLocked drops path from the sorted path index, if present.
// r.mu must be held.
func (r *ServiceRouter) removePathLocked(path ObjectPath) {
	i := sort.Search(len(r.paths), func(i int) bool { return r.paths[i] >= path })
	if i < len(r.paths) && r.paths[i] == path {
		r.paths = slices.Delete(r.paths, i, i+1)
	}
}

// directChildrenLocked returns the immediate path-element children of
// path found among exported objects. r.mu must be held.
func (r *ServiceRouter) directChildrenLocked(path ObjectPath) []string {
	prefix := string(path)
	if prefix != "/" {
		prefix += "/"
	}
	i := sort.Search(len(r.paths), func(i int) bool { return string(r.paths[i]) >= prefix })
	seen := map[string]bool{}
	var ret []string
	for ; i < len(r.paths); i++ {
		p := string(r.paths[i])
		if !strings.HasPrefix(p, prefix) {
			break
		}
		rest := p[len(prefix):]
		if elem, _, _ := strings.Cut(rest, "/"); elem != "" && !seen[elem] {
			seen[elem] = true
			ret = append(ret, elem)
		}
	}
	return ret
}

// emitInterfacesAdded announces newly exported interfaces at path,
// including their current property values, as required by
// org.freedesktop.DBus.ObjectManager.
func (r *ServiceRouter) emitInterfacesAdded(path ObjectPath, names []string) {
	ctx := context.Background()
	r.mu.Lock()
	ifaces := r.objects[path]
	props := map[string]map[string]Variant{}
	for _, name := range names {
		bi, ok := ifaces[name]
		if !ok {
			continue
		}
		vals := map[string]Variant{}
		for _, pname := range bi.propertyOrder {
			prop := bi.properties[pname]
			if !prop.Access.readable() {
				continue
			}
			if v, err := prop.Get(ctx, path); err == nil {
				vals[pname] = Variant{v}
			}
		}
		props[name] = vals
	}
	r.mu.Unlock()

	r.c.EmitSignal(ctx, path, InterfacesAdded{
		Path:       path,
		Interfaces: props,
	})
}

// emitInterfacesRemoved announces that names are no longer exported
// at path.
func (r *ServiceRouter) emitInterfacesRemoved(path ObjectPath, names []string) {
	ctx := context.Background()
	r.c.EmitSignal(ctx, path, InterfacesRemoved{
		Path:       path,
		Interfaces: names,
	})
}

// getManagedObjects builds the snapshot returned by
// org.freedesktop.DBus.ObjectManager.GetManagedObjects: every object
// at or below path, with the full readable property set of each of
// its interfaces. The subtree walk uses the sorted path index rather
// than scanning every exported object, so cost scales with the size
// of the requested subtree, not the whole export table.
func (r *ServiceRouter) getManagedObjects(path ObjectPath) map[ObjectPath]map[string]map[string]Variant {
	ctx := context.Background()

	r.mu.Lock()
	type snapshot struct {
		path   ObjectPath
		ifaces map[string]*builtInterface
	}
	matches := r.subtreeLocked(path)
	subtree := make([]snapshot, 0, len(matches))
	for _, p := range matches {
		subtree = append(subtree, snapshot{p, r.objects[p]})
	}
	r.mu.Unlock()

	ret := map[ObjectPath]map[string]map[string]Variant{}
	for _, s := range subtree {
		perIface := map[string]map[string]Variant{}
		for name, bi := range s.ifaces {
			vals := map[string]Variant{}
			for _, pname := range bi.propertyOrder {
				prop := bi.properties[pname]
				if !prop.Access.readable() {
					continue
				}
				if v, err := prop.Get(ctx, s.path); err == nil {
					vals[pname] = Variant{v}
				}
			}
			perIface[name] = vals
		}
		ret[s.path] = perIface
	}
	return ret
}

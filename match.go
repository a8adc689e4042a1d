package dbus

import (
	"errors"
	"fmt"
	"maps"
	"reflect"
	"slices"
	"strings"

	"github.com/creachadair/mds/value"
)

// Match selects a subset of the signals and property-change
// notifications flowing through a connection. A Watcher evaluates its
// Matches against every incoming signal to decide what to deliver.
type Match struct {
	sender    value.Maybe[string]
	path      value.Maybe[ObjectPath]
	pathUnder value.Maybe[ObjectPath]
	onSignal  value.Maybe[signalShape]
	onProp    value.Maybe[interfaceMember]
	wantArg   map[int]string
	wantPath  map[int]ObjectPath
	wantNS    value.Maybe[string]
}

// signalShape records which struct fields of a registered signal type
// can be filtered by ArgStr/ArgPathPrefix/Arg0Namespace, and how to
// read a string out of each at match time.
type signalShape struct {
	interfaceMember
	asString map[int]func(reflect.Value) string
	asPath   map[int]func(reflect.Value) string
}

// MatchNotification builds a Match for every occurrence of the given
// notification type: a signal registered with [RegisterSignalType],
// or a property change registered with [RegisterPropertyChangeType].
func MatchNotification[NotificationT any]() *Match {
	target := baseType(reflect.TypeFor[NotificationT]())

	if prop, ok := propNameFor(target); ok {
		return &Match{onProp: value.Just(prop)}
	}

	member, ok := signalNameFor(target)
	if !ok {
		panic(fmt.Errorf("unknown notification type %s", target))
	}

	shape := signalShape{
		interfaceMember: member,
		asString:        map[int]func(reflect.Value) string{},
		asPath:          map[int]func(reflect.Value) string{},
	}
	info, err := getStructInfo(target)
	if err != nil {
		panic(fmt.Errorf("getting signal struct info for %s: %w", target, err))
	}
	for i, field := range info.StructFields {
		switch bottom := baseType(field.Type); {
		case bottom == reflect.TypeFor[ObjectPath]():
			shape.asPath[i] = field.StringGetter()
		case bottom.Kind() == reflect.String:
			shape.asString[i] = field.StringGetter()
		}
	}

	return &Match{onSignal: value.Just(shape)}
}

// MatchAllSignals builds a Match that accepts every signal.
func MatchAllSignals() *Match {
	return &Match{}
}

// filterString renders m in the rule syntax the bus's AddMatch and
// RemoveMatch methods expect.
func (m *Match) filterString() string {
	clauses := []string{"type='signal'"}
	add := func(key, val string) {
		clauses = append(clauses, fmt.Sprintf("%s=%s", key, quoteMatchArg(val)))
	}

	if s, ok := m.sender.GetOK(); ok {
		add("sender", s)
	}
	if p, ok := m.path.GetOK(); ok {
		add("path", p.String())
	}
	if p, ok := m.pathUnder.GetOK(); ok {
		add("path_namespace", p.String())
	}
	if prop, ok := m.onProp.GetOK(); ok {
		add("interface", ifaceProps)
		add("member", "PropertiesChanged")
		add("arg0", prop.Interface)
	}
	if sig, ok := m.onSignal.GetOK(); ok {
		add("interface", sig.Interface)
		add("member", sig.Member)
		for _, i := range slices.Sorted(maps.Keys(m.wantArg)) {
			add(fmt.Sprintf("arg%d", i), m.wantArg[i])
		}
		for _, i := range slices.Sorted(maps.Keys(m.wantPath)) {
			add(fmt.Sprintf("arg%dpath", i), m.wantPath[i].String())
		}
		if ns, ok := m.wantNS.GetOK(); ok {
			add("arg0namespace", ns)
		}
	}

	return strings.Join(clauses, ",")
}

// originMatches reports whether hdr's sender and path satisfy the
// sender/path/path-prefix restrictions common to both signal and
// property matches.
func (m *Match) originMatches(hdr *header) bool {
	if s, ok := m.sender.GetOK(); ok && hdr.Sender != s {
		return false
	}
	if p, ok := m.path.GetOK(); ok && hdr.Path != p {
		return false
	}
	if p, ok := m.pathUnder.GetOK(); ok && hdr.Path != p && !hdr.Path.IsChildOf(p) {
		return false
	}
	return true
}

// matchesSignal reports whether hdr/body matches m, applying the same
// filtering the bus itself would apply to m.filterString(). A
// connection delivers one merged stream of signals to all Watchers,
// so each Watcher must re-check its own filters against everything it
// receives.
func (m *Match) matchesSignal(hdr *header, body reflect.Value) bool {
	if m.onProp.Present() {
		return false
	}
	if !m.originMatches(hdr) {
		return false
	}

	sig, ok := m.onSignal.GetOK()
	if !ok {
		return true
	}
	if hdr.Interface != sig.Interface || hdr.Member != sig.Member {
		return false
	}

	val := body.Elem()
	for i, want := range m.wantArg {
		if sig.asString[i](val) != want {
			return false
		}
	}
	for i, want := range m.wantPath {
		if get := sig.asString[i]; get != nil {
			if got := ObjectPath(get(val)); got != want && !got.IsChildOf(want) {
				return false
			}
		}
		if get := sig.asPath[i]; get != nil {
			if got := ObjectPath(get(val)); got != want && !got.IsChildOf(want) {
				return false
			}
		}
	}
	if ns, ok := m.wantNS.GetOK(); ok {
		if got := sig.asString[0](val); got != ns && !strings.HasPrefix(got, ns+".") {
			return false
		}
	}
	return true
}

// matchesProperty reports whether a PropertiesChanged notification
// for prop, carried in hdr/body, matches m.
func (m *Match) matchesProperty(hdr *header, prop interfaceMember, body reflect.Value) bool {
	want, ok := m.onProp.GetOK()
	if !ok {
		return false
	}
	if !m.originMatches(hdr) {
		return false
	}
	if hdr.Interface != ifaceProps || hdr.Member != "PropertiesChanged" {
		return false
	}
	return want.Interface == prop.Interface && want.Member == prop.Member
}

// Peer restricts the match to signals sent by p.
func (m *Match) Peer(p Peer) *Match {
	m.sender = value.Just(p.Name())
	return m
}

// Object restricts the match to signals sent by a single object path.
func (m *Match) Object(o ObjectPath) *Match {
	m.pathUnder = value.Absent[ObjectPath]()
	m.path = value.Just(o.Clean())
	return m
}

// ObjectPrefix restricts the match to signals sent by objects at or
// below the given path prefix.
//
// For example, ObjectPrefix("/mascots/gopher") matches signals
// emitted by /mascots/gopher, /mascots/gopher/plushie,
// /mascots/gopher/art/renee-french, but not /mascots/glenda.
func (m *Match) ObjectPrefix(o ObjectPath) *Match {
	m.path = value.Absent[ObjectPath]()
	if o == "/" {
		// dbus-broker treats "/" the same as no path filter at all, so
		// there's no point sending it as a namespace match.
		m.pathUnder = value.Absent[ObjectPath]()
	} else {
		m.pathUnder = value.Just(o.Clean())
	}
	return m
}

// ArgStr restricts the match to signals whose i-th body field is a
// string equal to val. Valid only on signal matches.
func (m *Match) ArgStr(i int, val string) *Match {
	sig, ok := m.onSignal.GetOK()
	if !ok {
		panic(fmt.Errorf("ArgStr applied to property match %s, can only be applied to signal matches", m.onProp.Get()))
	}
	if sig.asString[i] == nil {
		panic(fmt.Errorf("invalid ArgStr match on arg %d, argument is not a string", i))
	}
	if m.wantArg == nil {
		m.wantArg = map[int]string{}
	}
	m.wantArg[i] = val
	return m
}

// ArgPathPrefix restricts the match to signals whose i-th body field
// is a string or ObjectPath with the given prefix. Valid only on
// signal matches.
func (m *Match) ArgPathPrefix(i int, val ObjectPath) *Match {
	sig, ok := m.onSignal.GetOK()
	if !ok {
		panic(fmt.Errorf("ArgPathPrefix applied to property match %s, can only be applied to signal matches", m.onProp.Get()))
	}
	if sig.asString[i] == nil && sig.asPath[i] == nil {
		panic(fmt.Errorf("invalid ArgPathPrefix match on arg %d, argument is not a string or an ObjectPath", i))
	}
	if m.wantPath == nil {
		m.wantPath = map[int]ObjectPath{}
	}
	m.wantPath[i] = val
	return m
}

// Arg0Namespace restricts the match to signals whose first body field
// is a peer or interface name under the given dot-separated prefix.
// Valid only on signal matches.
func (m *Match) Arg0Namespace(val string) *Match {
	sig, ok := m.onSignal.GetOK()
	if !ok {
		panic(fmt.Errorf("Arg0Namespace applied to property match %s, can only be applied to signal matches", m.onProp.Get()))
	}
	if sig.asString[0] == nil {
		panic(errors.New("invalid Arg0Namespace match, argument 0 is not a string"))
	}
	m.wantNS = value.Just(val)
	return m
}

func quoteMatchArg(s string) string {
	s = strings.ReplaceAll(s, "'", "'\\''")
	return "'" + s + "'"
}

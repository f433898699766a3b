package audience

import "sort"

// Set is a set of participant uuids
type Set map[string]struct{}

// NewSet returns a set holding the given uuids
func NewSet(uuids ...string) Set {
	s := make(Set, len(uuids))
	for _, u := range uuids {
		s.Add(u)
	}
	return s
}

// Add inserts a uuid
func (s Set) Add(uuid string) {
	s[uuid] = struct{}{}
}

// Remove deletes a uuid
func (s Set) Remove(uuid string) {
	delete(s, uuid)
}

// Contains reports whether uuid is in the set
func (s Set) Contains(uuid string) bool {
	_, ok := s[uuid]
	return ok
}

// Len returns the number of uuids in the set
func (s Set) Len() int {
	return len(s)
}

// Sorted returns the members in ascending order
func (s Set) Sorted() []string {
	out := make([]string, 0, len(s))
	for u := range s {
		out = append(out, u)
	}
	sort.Strings(out)
	return out
}

// Difference returns the members of s that are not in exclude, sorted
func (s Set) Difference(exclude []string) []string {
	skip := make(map[string]struct{}, len(exclude))
	for _, u := range exclude {
		skip[u] = struct{}{}
	}
	out := make([]string, 0, len(s))
	for u := range s {
		if _, ok := skip[u]; !ok {
			out = append(out, u)
		}
	}
	sort.Strings(out)
	return out
}

// Sets maps an audience name to its members
type Sets map[string]Set

// Package party defines the identity type shared by every other package in
// this module: the opaque verifier identity a signed message is attributed
// to.
package party

import "sort"

// ID identifies a party taking part in a session. Concretely it is the
// byte-comparable handle for whatever verifying key the embedder's Signer
// plug-in uses; the core never interprets its contents.
type ID string

// IDSlice is a sorted, duplicate-free list of party IDs.
type IDSlice []ID

// NewIDSlice sorts and returns a copy of ids. It does not deduplicate;
// use Valid to check for duplicates.
func NewIDSlice(ids []ID) IDSlice {
	out := make(IDSlice, len(ids))
	copy(out, ids)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Valid reports whether the slice is sorted and free of duplicates and
// empty IDs.
func (s IDSlice) Valid() bool {
	for i, id := range s {
		if id == "" {
			return false
		}
		if i > 0 && s[i-1] >= id {
			return false
		}
	}
	return true
}

// Contains reports whether id appears in the (sorted) slice.
func (s IDSlice) Contains(id ID) bool {
	i := sort.Search(len(s), func(i int) bool { return s[i] >= id })
	return i < len(s) && s[i] == id
}

// Remove returns a copy of s with id removed, preserving order.
func (s IDSlice) Remove(id ID) IDSlice {
	out := make(IDSlice, 0, len(s))
	for _, other := range s {
		if other != id {
			out = append(out, other)
		}
	}
	return out
}

// AsSet materializes the slice as a set for membership-heavy use.
func (s IDSlice) AsSet() map[ID]struct{} {
	set := make(map[ID]struct{}, len(s))
	for _, id := range s {
		set[id] = struct{}{}
	}
	return set
}

package grantfile

import (
	"bytes"
	"encoding/json"
	"strings"
)

// FindEquivalent returns the first active permission in existing that grants
// the same terms as req. Grantees compare case-insensitively, operations
// exactly, parameters by value and files as a set.
//
// A candidate whose files differ from req is not reusable: the registry
// rejects the same grant content with a different file set. The scan moves
// on to the next candidate.
func FindEquivalent(existing []Permission, req Params) (*Permission, bool) {
	grantee := req.Grantee.Hex()
	for i := range existing {
		p := &existing[i]
		if !p.Active {
			continue
		}
		if !strings.EqualFold(p.Grantee, grantee) {
			continue
		}
		if p.Operation != req.Operation {
			continue
		}
		if !ParametersEqual(p.Parameters, req.Parameters) {
			continue
		}
		if !FilesEqual(p.Files, req.Files) {
			continue
		}
		return p, true
	}
	return nil, false
}

// ShouldCreateNew reports whether req needs a new grant.
func ShouldCreateNew(existing []Permission, req Params) bool {
	_, found := FindEquivalent(existing, req)
	return !found
}

// FilesEqual compares two file id lists as sets.
func FilesEqual(a, b []uint64) bool {
	as := make(map[uint64]struct{}, len(a))
	for _, id := range a {
		as[id] = struct{}{}
	}
	bs := make(map[uint64]struct{}, len(b))
	for _, id := range b {
		bs[id] = struct{}{}
	}
	if len(as) != len(bs) {
		return false
	}
	for id := range as {
		if _, ok := bs[id]; !ok {
			return false
		}
	}
	return true
}

// ParametersEqual compares operation parameters. Nil and empty maps are
// equal; otherwise every key must be present on both sides with the same
// JSON value.
func ParametersEqual(a, b map[string]any) bool {
	if len(a) == 0 || len(b) == 0 {
		return len(a) == len(b)
	}
	if len(a) != len(b) {
		return false
	}
	for key, av := range a {
		bv, ok := b[key]
		if !ok {
			return false
		}
		if !jsonEqual(av, bv) {
			return false
		}
	}
	return true
}

// jsonEqual compares values by their canonical JSON encoding, so a number
// decoded from a grant file matches the same number supplied in Go.
func jsonEqual(a, b any) bool {
	ae, err := json.Marshal(a)
	if err != nil {
		return false
	}
	be, err := json.Marshal(b)
	if err != nil {
		return false
	}
	return bytes.Equal(ae, be)
}

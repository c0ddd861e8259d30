/*
Copyright 2022-Present Couchbase, Inc.

Use of this software is governed by the Business Source License included in
the file licenses/BSL-Couchbase.txt.  As of the Change Date specified in that
file, in accordance with the Business Source License, use of this software will
be governed by the Apache License, Version 2.0, included in the file
licenses/APL2.txt.
*/

// Package revisionarr implements revisions represented by an arbitrarily
// sized array of uint64's.  Later elements are more significant, and missing
// elements are treated as zero, so []uint64{5} equals []uint64{5, 0}.
package revisionarr

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

func elementAt(rev []uint64, idx int) uint64 {
	if idx < len(rev) {
		return rev[idx]
	}
	return 0
}

// Add adds two revisions element-wise.  Since revisions only ever increase, a
// revision derived from two underlying sources can be computed this way.
func Add(a, b []uint64) []uint64 {
	out := make([]uint64, max(len(a), len(b)))
	for idx := range out {
		out[idx] = elementAt(a, idx) + elementAt(b, idx)
	}
	return out
}

// Compare returns 0 if a == b, -1 if a < b and +1 if a > b.  A nil revision
// is the same as an empty one.
func Compare(a, b []uint64) int {
	for idx := max(len(a), len(b)) - 1; idx >= 0; idx-- {
		av, bv := elementAt(a, idx), elementAt(b, idx)
		if av > bv {
			return +1
		} else if av < bv {
			return -1
		}
	}
	return 0
}

// Format renders a revision in its dotted form, eg: "12.0.3".
func Format(rev []uint64) string {
	parts := make([]string, len(rev))
	for idx, value := range rev {
		parts[idx] = strconv.FormatUint(value, 10)
	}
	return strings.Join(parts, ".")
}

// Parse is the inverse of Format.
func Parse(s string) ([]uint64, error) {
	if s == "" {
		return nil, nil
	}

	parts := strings.Split(s, ".")
	rev := make([]uint64, len(parts))
	for idx, part := range parts {
		value, err := strconv.ParseUint(part, 10, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid revision %q", s)
		}
		rev[idx] = value
	}
	return rev, nil
}

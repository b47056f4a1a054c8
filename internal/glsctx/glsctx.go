/*
Copyright (C) 2023  Carl-Philip Hänsch

    This program is free software: you can redistribute it and/or modify
    it under the terms of the GNU General Public License as published by
    the Free Software Foundation, either version 3 of the License, or
    (at your option) any later version.

    This program is distributed in the hope that it will be useful,
    but WITHOUT ANY WARRANTY; without even the implied warranty of
    MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
    GNU General Public License for more details.

    You should have received a copy of the GNU General Public License
    along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

// Package glsctx tags the per-segment, per-column fan-out goroutines of
// flush and compact with goroutine-local context, the same job
// github.com/jtolds/gls does for the teacher's own shard fan-out
// (storage/partition.go, storage/compute.go: gls.Go wrapping each
// shard's worker so a panic deep inside scm evaluation can still report
// which shard it came from).
package glsctx

import "github.com/jtolds/gls"

var mgr = gls.NewContextManager()

// Values are the tags attached to a goroutine-local context.
type Values = gls.Values

// With runs fn with tags attached to the calling goroutine's local
// context for the duration of the call, so any code fn invokes -
// including code several stack frames deeper, like a codec or
// rowcodec helper - can recover them via Value without an extra
// parameter threaded through every signature.
func With(tags Values, fn func()) {
	mgr.SetValues(tags, fn)
}

// Value fetches the goroutine-local value key was tagged with via the
// nearest enclosing With call; ok is false outside of one.
func Value(key string) (any, bool) {
	return mgr.GetValue(key)
}

// Describe renders the "segment"/"column" tags of the current
// goroutine-local context, if any, for panic and error enrichment.
func Describe() string {
	seg, okSeg := Value("segment")
	col, okCol := Value("column")
	switch {
	case okSeg && okCol:
		return seg.(string) + " column " + col.(string)
	case okSeg:
		return seg.(string)
	case okCol:
		return "column " + col.(string)
	default:
		return ""
	}
}

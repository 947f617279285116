// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package conversation

import "strings"

// Accumulator folds token deltas into the text of one assistant turn.
//
// After N appends the text is exactly the concatenation of the N deltas in
// call order: nothing is trimmed, merged or deduplicated.
//
// Not safe for concurrent use; each turn owns its accumulator.
type Accumulator struct {
	text   strings.Builder
	deltas int
}

// Append adds delta and returns the accumulated text.
func (a *Accumulator) Append(delta string) string {
	a.text.WriteString(delta)
	a.deltas++
	return a.text.String()
}

// String returns the accumulated text.
func (a *Accumulator) String() string {
	return a.text.String()
}

// Deltas returns how many deltas have been appended, empty ones included.
func (a *Accumulator) Deltas() int {
	return a.deltas
}

// Reset clears the accumulator for a new turn.
func (a *Accumulator) Reset() {
	a.text.Reset()
	a.deltas = 0
}

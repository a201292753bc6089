// Copyright 2024 Northern.tech AS
//
//    Licensed under the Apache License, Version 2.0 (the "License");
//    you may not use this file except in compliance with the License.
//    You may obtain a copy of the License at
//
//        http://www.apache.org/licenses/LICENSE-2.0
//
//    Unless required by applicable law or agreed to in writing, software
//    distributed under the License is distributed on an "AS IS" BASIS,
//    WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
//    See the License for the specific language governing permissions and
//    limitations under the License.

package updatestate

// Classification is the auto-update decision table output.
type Classification int

const (
	Indeterminate Classification = iota
	AfterClean
	AfterFailure
	Pending
)

func (c Classification) String() string {
	switch c {
	case AfterClean:
		return "AfterClean"
	case AfterFailure:
		return "AfterFailure"
	case Pending:
		return "Pending"
	default:
		return "Indeterminate"
	}
}

// MergeUpdateField copies positions 0..1 from existing (or "00" if existing
// isn't a valid 4-char field), and sets positions 2/3 to the fw/app changed
// bits. The result is always exactly 4 bytes, per §3's UpdateField
// invariant.
func MergeUpdateField(existing string, fwChanged, appChanged bool) string {
	reserved := "00"
	if len(existing) == 4 {
		reserved = existing[0:2]
	}
	return reserved + boolChar(fwChanged) + boolChar(appChanged)
}

func boolChar(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

// fieldPosition returns the byte at position p (2 or 3) of a well-formed
// 4-char update field, or 0 if the field is malformed.
func fieldPosition(field string, p int) byte {
	if len(field) != 4 || p < 0 || p > 3 {
		return 0
	}
	return field[p]
}

// FwChanged reports the "firmware changed in flight" bit (position 2).
func FwChanged(field string) bool {
	return fieldPosition(field, 2) == '1'
}

// AppChanged reports the "application changed in flight" bit (position 3).
func AppChanged(field string) bool {
	return fieldPosition(field, 3) == '1'
}

// ClearFwChanged returns field with position 2 reset to '0'.
func ClearFwChanged(field string) string {
	return withPosition(field, 2, '0')
}

// ClearAppChanged returns field with position 3 reset to '0'.
func ClearAppChanged(field string) string {
	return withPosition(field, 3, '0')
}

func withPosition(field string, p int, c byte) string {
	if len(field) != 4 {
		return field
	}
	b := []byte(field)
	b[p] = c
	return string(b)
}

// Classify implements §4.2's decision table: position 2 (fw) is the usual
// caller, but the automatic-update paths apply this to whichever position
// is relevant to the slot being considered.
func Classify(position byte, flag Flag) Classification {
	switch {
	case position == '0' && flag == NoUpdate:
		return AfterClean
	case position == '1' && (flag == FailedFw || flag == FailedApp || flag == FwRebootFailed):
		return AfterFailure
	default:
		return Pending
	}
}

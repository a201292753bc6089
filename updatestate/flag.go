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

// Package updatestate holds the pure, side-effect-free pieces of the
// bootstate protocol (component C2): the BootstateFlag enum, the 4-char
// update field, and the classification table the automatic-update paths
// read off it. Nothing here touches BootEnv directly so it can be unit
// tested without a fake commander.
package updatestate

import "strconv"

// Flag is the decimal-string-persisted bootstate enum.
type Flag int

const (
	NoUpdate Flag = iota
	FwRebootFailed
	IncompleteFw
	IncompleteApp
	IncompleteBoth
	FailedFw
	FailedApp
	RollbackFwPending
	RollbackAppPending
	RollbackBothPending
	IncompleteFwRollback
	IncompleteAppRollback
	IncompleteBothRollback

	// Unknown marks a decimal string outside 0..12; never itself encoded.
	Unknown Flag = -1
)

func (f Flag) String() string {
	if f < NoUpdate || f > IncompleteBothRollback {
		return "Unknown"
	}
	names := [...]string{
		"NoUpdate", "FwRebootFailed", "IncompleteFw", "IncompleteApp",
		"IncompleteBoth", "FailedFw", "FailedApp", "RollbackFwPending",
		"RollbackAppPending", "RollbackBothPending", "IncompleteFwRollback",
		"IncompleteAppRollback", "IncompleteBothRollback",
	}
	return names[f]
}

// Encode renders f as the decimal string persisted in update_reboot_state.
func Encode(f Flag) string {
	return strconv.Itoa(int(f))
}

// Decode parses a persisted decimal string back into a Flag, returning
// Unknown for anything outside 0..12 (including malformed input).
func Decode(s string) Flag {
	n, err := strconv.Atoi(s)
	if err != nil || n < int(NoUpdate) || n > int(IncompleteBothRollback) {
		return Unknown
	}
	return Flag(n)
}

// Copyright 2019 Northern.tech AS
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
package testing

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/FSEmbedded/fs-updater-lib-sub000/system"
)

// TestOSCalls is a fake system.StatCommander: every invocation of Command
// ignores the requested name/args and instead runs a short inline shell
// snippet that prints Output and exits RetCode, so callers can exercise
// fw_printenv/fw_setenv/rauc-style call sites without touching the real
// binaries.
type TestOSCalls struct {
	Output  string
	RetCode int
	File    os.FileInfo
	Err     error
}

func NewTestOSCalls(output string, ret int) *TestOSCalls {
	return &TestOSCalls{Output: output, RetCode: ret}
}

func (sc *TestOSCalls) Stat(name string) (os.FileInfo, error) {
	return sc.File, sc.Err
}

// Command returns a *system.Cmd that, regardless of the requested program,
// writes sc.Output to stdout and exits with sc.RetCode; when RetCode is
// non-zero, sc.Output is written to stderr as well. This is enough to drive
// the stdout-pipe path (fw_printenv), the exit-status path (fw_setenv/rauc)
// and the captured-stderr path (rauc failures) that callers in this tree
// actually use.
func (sc *TestOSCalls) Command(name string, args ...string) *system.Cmd {
	quoted := shellQuote(sc.Output)
	script := fmt.Sprintf("cat >/dev/null; printf %s; exit %s", quoted, strconv.Itoa(sc.RetCode))
	if sc.RetCode != 0 {
		script = fmt.Sprintf("cat >/dev/null; printf %s; printf %s >&2; exit %s", quoted, quoted, strconv.Itoa(sc.RetCode))
	}
	return system.Command("/bin/sh", "-c", script)
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

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

package orchestrator

import (
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/FSEmbedded/fs-updater-lib-sub000/errkind"
)

// Version is the u64 build-in of §6's "compile-time switch between u64 and
// string" version type. Version files are an 8-digit decimal date-stamp,
// e.g. "20240615".
type Version uint64

var versionFilePattern = regexp.MustCompile(`^[0-9]{8}$`)

// ReadVersion reads and validates a version file's contents.
func ReadVersion(path string) (Version, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, errkind.New(errkind.VersionRead, path, err)
	}
	s := strings.TrimSpace(string(raw))
	if !versionFilePattern.MatchString(s) {
		return 0, errkind.New(errkind.VersionRead, path, nil)
	}
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, errkind.New(errkind.VersionRead, path, err)
	}
	return Version(n), nil
}

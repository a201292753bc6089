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

// Package manifest parses the extracted update's JSON manifest and
// verifies each referenced file's SHA-256 hash (component C5).
package manifest

import (
	"bufio"
	"encoding/hex"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/minio/sha256-simd"
	"github.com/pkg/errors"

	"github.com/FSEmbedded/fs-updater-lib-sub000/errkind"
)

const hashBufferSize = 8 * 1024

const (
	FirmwareFile    = "update.fw"
	ApplicationFile = "update.app"
)

type hashes struct {
	SHA256 string `json:"sha256"`
}

type update struct {
	Version string `json:"version"`
	Handler string `json:"handler"`
	File    string `json:"file"`
	Hashes  hashes `json:"hashes"`
}

type images struct {
	Updates []update `json:"updates"`
}

type document struct {
	Images images `json:"images"`
}

// Result is the classification of which payload kinds this update carries,
// after every listed file's hash has verified.
type Result struct {
	FirmwareAvailable    bool
	ApplicationAvailable bool
}

// Verify parses manifestPath and hashes every referenced file relative to
// extractedDir, failing closed on any mismatch or unrecognized image.
func Verify(manifestPath, extractedDir string) (Result, error) {
	raw, err := os.ReadFile(manifestPath)
	if err != nil {
		return Result{}, errkind.New(errkind.NotFound, manifestPath, err)
	}

	var doc document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return Result{}, errkind.New(errkind.BadFormat, manifestPath, err)
	}
	if doc.Images.Updates == nil {
		return Result{}, errkind.New(errkind.BadFormat, manifestPath, errors.New("manifest: missing images.updates"))
	}

	var result Result
	for _, u := range doc.Images.Updates {
		if u.Version == "" || u.Handler == "" || u.File == "" || u.Hashes.SHA256 == "" {
			return Result{}, errkind.New(errkind.BadFormat, manifestPath, errors.New("manifest: incomplete update entry"))
		}

		switch u.File {
		case FirmwareFile:
			result.FirmwareAvailable = true
		case ApplicationFile:
			result.ApplicationAvailable = true
		default:
			return Result{}, errkind.New(errkind.UnsupportedImage, u.File, nil)
		}

		path := filepath.Join(extractedDir, u.File)
		sum, err := sha256File(path)
		if err != nil {
			return Result{}, err
		}
		if !strings.EqualFold(sum, u.Hashes.SHA256) {
			return Result{}, errkind.New(errkind.BadFormat, u.File, errors.New("manifest: sha256 mismatch"))
		}
	}

	return result, nil
}

func sha256File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", errkind.New(errkind.NotFound, path, err)
	}
	defer f.Close()

	h := sha256.New()
	buf := make([]byte, hashBufferSize)
	if _, err := io.CopyBuffer(h, bufio.NewReaderSize(f, hashBufferSize), buf); err != nil {
		return "", errkind.New(errkind.ReadError, path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

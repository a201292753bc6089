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

package archive

import (
	"archive/tar"
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FSEmbedded/fs-updater-lib-sub000/errkind"
	"github.com/FSEmbedded/fs-updater-lib-sub000/logging"
)

// buildTar writes a plain (uncompressed) tar to buf with the given
// name/content pairs; the Reader in this package only cares about the tar
// layer once past bzip2, so tests drive that layer directly through a
// package-private constructor mirroring OpenStream but skipping bzip2.
func buildTar(t *testing.T, entries map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	for name, content := range entries {
		hdr := &tar.Header{
			Name: name,
			Mode: 0644,
			Size: int64(len(content)),
		}
		require.NoError(t, tw.WriteHeader(hdr))
		_, err := tw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	return buf.Bytes()
}

func newTarOnlyReader(raw []byte) *Reader {
	return &Reader{tr: tar.NewReader(bytes.NewReader(raw))}
}

func Test_SafeExtractor_ExtractsRegularFiles(t *testing.T) {
	dir := t.TempDir()
	raw := buildTar(t, map[string]string{
		"update.fw":  "firmware-bytes",
		"manifest.json": `{"images":{}}`,
	})

	x := NewSafeExtractor(dir, logging.New("archive-test"))
	assert.NoError(t, x.Extract(newTarOnlyReader(raw)))

	data, err := os.ReadFile(filepath.Join(dir, "update.fw"))
	require.NoError(t, err)
	assert.Equal(t, "firmware-bytes", string(data))
}

func Test_SafeExtractor_RejectsParentTraversal(t *testing.T) {
	dir := t.TempDir()
	raw := buildTar(t, map[string]string{
		"../../etc/passwd": "pwned",
	})

	x := NewSafeExtractor(dir, logging.New("archive-test"))
	err := x.Extract(newTarOnlyReader(raw))
	require.Error(t, err)
	var kindErr *errkind.Error
	assert.ErrorAs(t, err, &kindErr)
	assert.Equal(t, errkind.UnsafePath, kindErr.Kind)
}

func Test_SafeExtractor_ReroutesAbsolutePathUnderTarget(t *testing.T) {
	dir := t.TempDir()
	raw := buildTar(t, map[string]string{
		"/../../../etc/shadow": "pwned",
	})

	x := NewSafeExtractor(dir, logging.New("archive-test"))
	err := x.Extract(newTarOnlyReader(raw))
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(dir, "etc", "shadow"))
	require.NoError(t, err)
	assert.Equal(t, "pwned", string(data))
}

func Test_SafeExtractor_EmptyArchive_Fails(t *testing.T) {
	dir := t.TempDir()
	raw := buildTar(t, map[string]string{})

	x := NewSafeExtractor(dir, logging.New("archive-test"))
	err := x.Extract(newTarOnlyReader(raw))
	require.Error(t, err)
	var kindErr *errkind.Error
	assert.ErrorAs(t, err, &kindErr)
	assert.Equal(t, errkind.EmptyArchive, kindErr.Kind)
}

func Test_ResolveEntryPath_NormalizesDotSegments(t *testing.T) {
	target := "/work/extract"
	prefix := target + "/"

	dest, err := resolveEntryPath(target, prefix, "a/./b/../c")
	require.NoError(t, err)
	assert.Equal(t, "/work/extract/a/c", dest)
}

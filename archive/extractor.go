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
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/FSEmbedded/fs-updater-lib-sub000/errkind"
)

const extractChunkSize = 32 * 1024

// SafeExtractor unpacks a Reader's entries into a target directory,
// rejecting any entry that would land outside it (component C4).
type SafeExtractor struct {
	target string
	log    *log.Entry
}

func NewSafeExtractor(target string, logger *log.Entry) *SafeExtractor {
	return &SafeExtractor{target: target, log: logger}
}

// Extract consumes every entry of r, writing regular files and creating
// directories under the target. It fails closed: any entry whose resolved
// destination escapes the target directory aborts the whole extraction
// with UnsafePath, and an archive that yields zero usable entries fails
// with EmptyArchive.
func (x *SafeExtractor) Extract(r *Reader) error {
	target, err := canonicalDir(x.target)
	if err != nil {
		return errkind.New(errkind.WriteError, x.target, err)
	}
	prefix := target + string(filepath.Separator)

	extracted := 0
	buf := make([]byte, extractChunkSize)

	for {
		entry, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}

		dest, err := resolveEntryPath(target, prefix, entry.Pathname)
		if err != nil {
			return err
		}

		switch entry.Kind {
		case KindDir:
			if err := os.MkdirAll(dest, os.FileMode(entry.Mode)|0700); err != nil {
				return errkind.New(errkind.WriteError, dest, err)
			}
		case KindLink:
			linkDest, err := resolveEntryPath(target, prefix, filepath.Join(filepath.Dir(entry.Pathname), entry.Linkname))
			if err != nil {
				x.log.Warnf("archive: rejecting link %s -> %s: %v", entry.Pathname, entry.Linkname, err)
				return err
			}
			_ = linkDest // validated only; this engine never follows entries as symlinks itself.
			continue
		default:
			if err := x.writeFile(dest, entry, r, buf); err != nil {
				return err
			}
		}
		extracted++
	}

	if extracted == 0 {
		return errkind.New(errkind.EmptyArchive, x.target, nil)
	}
	return nil
}

func (x *SafeExtractor) writeFile(dest string, entry *Entry, r *Reader, buf []byte) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0700); err != nil {
		return errkind.New(errkind.WriteError, dest, err)
	}

	tmp := dest + "~"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, os.FileMode(entry.Mode)|0600)
	if err != nil {
		return errkind.New(errkind.WriteError, dest, err)
	}

	for {
		n, rerr := r.PullChunk(buf)
		if n > 0 {
			if _, werr := f.Write(buf[:n]); werr != nil {
				f.Close()
				os.Remove(tmp)
				return errkind.New(errkind.WriteError, dest, werr)
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			f.Close()
			os.Remove(tmp)
			return rerr
		}
	}

	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return errkind.New(errkind.WriteError, dest, err)
	}
	if err := os.Chtimes(tmp, modTime(entry.ModTime), modTime(entry.ModTime)); err != nil {
		x.log.Debugf("archive: could not preserve mtime for %s: %v", dest, err)
	}
	if err := os.Rename(tmp, dest); err != nil {
		os.Remove(tmp)
		return errkind.New(errkind.RenameError, dest, err)
	}
	return nil
}

// resolveEntryPath implements §4.3 steps 1-3: lexical normalization,
// rerooting of absolute paths, and the canonical-prefix containment check.
func resolveEntryPath(target, prefix, rel string) (string, error) {
	cleaned := filepath.Clean(rel)
	if filepath.IsAbs(cleaned) {
		cleaned = strings.TrimPrefix(cleaned, string(filepath.Separator))
		cleaned = filepath.Clean(cleaned)
	}
	if cleaned == "." || cleaned == "" {
		return "", errkind.New(errkind.UnsafePath, rel, nil)
	}

	dest := filepath.Clean(filepath.Join(target, cleaned))
	if dest != target && !strings.HasPrefix(dest, prefix) {
		return "", errkind.New(errkind.UnsafePath, rel, nil)
	}
	return dest, nil
}

func modTime(unixSeconds int64) time.Time {
	return time.Unix(unixSeconds, 0)
}

func canonicalDir(dir string) (string, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", err
	}
	return filepath.EvalSymlinks(dir)
}

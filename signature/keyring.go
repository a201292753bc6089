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

// Package signature verifies an appbundle's detached RSA-PSS/SHA-256
// signature against a trusted certificate pinned in a RAUC-style
// system.conf (component C7).
package signature

import (
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"gopkg.in/ini.v1"

	"github.com/FSEmbedded/fs-updater-lib-sub000/errkind"
)

// LoadKeyringCert reads systemConfPath (RAUC's system.conf format) for the
// "[keyring] path" key, resolves it relative to confDir, and parses the
// PEM certificate it names.
func LoadKeyringCert(systemConfPath, confDir string) (*x509.Certificate, error) {
	cfg, err := ini.Load(systemConfPath)
	if err != nil {
		return nil, errkind.New(errkind.CertLoad, systemConfPath, err)
	}

	keyringRelPath := cfg.Section("keyring").Key("path").String()
	if keyringRelPath == "" {
		return nil, errkind.New(errkind.CertLoad, systemConfPath, errors.New("signature: system.conf missing keyring.path"))
	}

	keyringPath := keyringRelPath
	if !filepath.IsAbs(keyringPath) {
		keyringPath = filepath.Join(confDir, keyringRelPath)
	}

	return loadCertificate(keyringPath)
}

func loadCertificate(path string) (*x509.Certificate, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errkind.New(errkind.CertLoad, path, err)
	}

	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, errkind.New(errkind.CertLoad, path, errors.New("signature: no PEM block found"))
	}

	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, errkind.New(errkind.CertLoad, path, err)
	}
	return cert, nil
}

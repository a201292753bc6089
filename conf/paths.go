// Copyright 2021 Northern.tech AS
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

package conf

import "path"

// Default filesystem paths, overridable through a Paths value loaded by
// LoadConfig. Mirrors the build-time-constant defaults named in §6 of the
// update engine specification.
var (
	DefaultFwEnvConfig = "/etc/fw_env.config"

	DefaultRaucConfDir  = "/etc/rauc"
	DefaultRaucConfFile = path.Join(DefaultRaucConfDir, "system.conf")

	DefaultFwVersionFile  = "/etc/fw_version"
	DefaultAppVersionFile = "/etc/app_version"

	DefaultApplicationDir = "/rw_fs/root/application"
	DefaultAppSlotA       = path.Join(DefaultApplicationDir, "app_a.squashfs")
	DefaultAppSlotB       = path.Join(DefaultApplicationDir, "app_b.squashfs")
	DefaultAppTmpFile     = path.Join(DefaultApplicationDir, "tmp.app")

	DefaultWorkDir      = "/tmp/adu/.update"
	DefaultWorkArchive  = path.Join(DefaultWorkDir, "tmp.tar.bz2")
	DefaultManifestName = "manifest.json"

	DefaultFwInstallerBinary = "rauc"
	DefaultLosetupBinary     = "losetup"
)

// Paths collects every filesystem/subprocess location the engine consults.
// It is the generalization point for the config file loaded by LoadConfig.
type Paths struct {
	FwEnvConfig string `json:",omitempty"`

	RaucConfFile string `json:",omitempty"`

	FwVersionFile  string `json:",omitempty"`
	AppVersionFile string `json:",omitempty"`

	ApplicationDir string `json:",omitempty"`
	AppSlotA       string `json:",omitempty"`
	AppSlotB       string `json:",omitempty"`
	AppTmpFile     string `json:",omitempty"`

	WorkDir      string `json:",omitempty"`
	WorkArchive  string `json:",omitempty"`
	ManifestName string `json:",omitempty"`

	FwInstallerBinary string `json:",omitempty"`
	LosetupBinary     string `json:",omitempty"`
}

// NewPaths returns the default path table described in §6.
func NewPaths() *Paths {
	return &Paths{
		FwEnvConfig:       DefaultFwEnvConfig,
		RaucConfFile:      DefaultRaucConfFile,
		FwVersionFile:     DefaultFwVersionFile,
		AppVersionFile:    DefaultAppVersionFile,
		ApplicationDir:    DefaultApplicationDir,
		AppSlotA:          DefaultAppSlotA,
		AppSlotB:          DefaultAppSlotB,
		AppTmpFile:        DefaultAppTmpFile,
		WorkDir:           DefaultWorkDir,
		WorkArchive:       DefaultWorkArchive,
		ManifestName:      DefaultManifestName,
		FwInstallerBinary: DefaultFwInstallerBinary,
		LosetupBinary:     DefaultLosetupBinary,
	}
}

// AppSlotPath returns the on-disk path for the given application slot letter.
func (p *Paths) AppSlotPath(slot byte) string {
	if slot == 'B' {
		return p.AppSlotB
	}
	return p.AppSlotA
}

func (p *Paths) CheckConfigDefaults() {
	defaults := NewPaths()
	if p.FwEnvConfig == "" {
		p.FwEnvConfig = defaults.FwEnvConfig
	}
	if p.RaucConfFile == "" {
		p.RaucConfFile = defaults.RaucConfFile
	}
	if p.FwVersionFile == "" {
		p.FwVersionFile = defaults.FwVersionFile
	}
	if p.AppVersionFile == "" {
		p.AppVersionFile = defaults.AppVersionFile
	}
	if p.ApplicationDir == "" {
		p.ApplicationDir = defaults.ApplicationDir
	}
	if p.AppSlotA == "" {
		p.AppSlotA = defaults.AppSlotA
	}
	if p.AppSlotB == "" {
		p.AppSlotB = defaults.AppSlotB
	}
	if p.AppTmpFile == "" {
		p.AppTmpFile = defaults.AppTmpFile
	}
	if p.WorkDir == "" {
		p.WorkDir = defaults.WorkDir
	}
	if p.WorkArchive == "" {
		p.WorkArchive = defaults.WorkArchive
	}
	if p.ManifestName == "" {
		p.ManifestName = defaults.ManifestName
	}
	if p.FwInstallerBinary == "" {
		p.FwInstallerBinary = defaults.FwInstallerBinary
	}
	if p.LosetupBinary == "" {
		p.LosetupBinary = defaults.LosetupBinary
	}
}

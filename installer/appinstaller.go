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

package installer

import (
	"os"

	log "github.com/sirupsen/logrus"

	"github.com/FSEmbedded/fs-updater-lib-sub000/appbundle"
	"github.com/FSEmbedded/fs-updater-lib-sub000/errkind"
	"github.com/FSEmbedded/fs-updater-lib-sub000/signature"
)

// AppInstaller runs the application-slot install sequence of §4.7:
// Verify -> CopyToTmp -> FsyncTmp -> Rename -> FlipSlotVar. The temp-file
// then os.Rename commit is the same pattern store.DirStore uses for its
// WriteAll, generalized here with an explicit fsync before the rename.
type AppInstaller struct {
	slotA    string
	slotB    string
	tmpPath  string
	verifier *signature.Verifier
	log      *log.Entry
}

func NewAppInstaller(slotA, slotB, tmpPath string, verifier *signature.Verifier, logger *log.Entry) *AppInstaller {
	return &AppInstaller{
		slotA:    slotA,
		slotB:    slotB,
		tmpPath:  tmpPath,
		verifier: verifier,
		log:      logger,
	}
}

// TargetSlot returns the path of the slot opposite to current ('A' or
// 'B'), i.e. the one this install will write to.
func (a *AppInstaller) TargetSlot(current byte) (other byte, path string, err error) {
	switch current {
	case 'A':
		return 'B', a.slotB, nil
	case 'B':
		return 'A', a.slotA, nil
	default:
		return 0, "", errkind.New(errkind.BootEnvNotAllowed, "application", nil)
	}
}

// Install runs the full sequence against bundlePath, returning the slot
// the payload was written to on success. It does not itself touch BootEnv; the
// caller (UpdateOrchestrator) stages application := other after Install
// returns nil, per §4.7 step 5.
func (a *AppInstaller) Install(bundlePath string, currentSlot byte) (newSlot byte, err error) {
	other, targetPath, err := a.TargetSlot(currentSlot)
	if err != nil {
		return 0, err
	}

	bundle, err := appbundle.Open(bundlePath)
	if err != nil {
		return 0, err
	}
	defer bundle.Close()

	ok, err := a.verifier.Verify(bundle)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, errkind.New(errkind.SignatureMismatch, bundlePath, nil)
	}

	os.Remove(a.tmpPath)
	if err := bundle.CopyPayloadTo(a.tmpPath); err != nil {
		return 0, err
	}

	if err := os.Rename(a.tmpPath, targetPath); err != nil {
		return 0, errkind.New(errkind.RenameError, targetPath, err)
	}
	a.log.Infof("installed application payload to slot %c", other)

	return other, nil
}

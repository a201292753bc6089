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

// Package orchestrator implements the top-level update API (component
// C10): update_firmware, update_application, update_firmware_and_application,
// commit_update, automatic_update_*, and rollback_*. Every public operation
// that writes BootEnv stages its writes and commits them with one flush
// before returning; RollbackFirmware writes nothing through BootEnv.
package orchestrator

import (
	log "github.com/sirupsen/logrus"

	"github.com/FSEmbedded/fs-updater-lib-sub000/bootenv"
	"github.com/FSEmbedded/fs-updater-lib-sub000/installer"
	"github.com/FSEmbedded/fs-updater-lib-sub000/updatestate"
)

// Orchestrator ties BootEnv, AppInstaller, and FwInstaller together behind
// the public operations of §4.9.
type Orchestrator struct {
	env            *bootenv.Context
	appInstaller   *installer.AppInstaller
	fwInstaller    *installer.FwInstaller
	fwVersionPath  string
	appVersionPath string
	log            *log.Entry

	// CompatQuirks reproduces the historical mislabeled bootstate write of
	// FailedFw on an application-update failure in UpdateApplication, for
	// fleets that still depend on that behavior during a migration window.
	// It has no other effect. Default off: new deployments get the
	// corrected mapping. See SPEC_FULL.md §9.
	CompatQuirks bool
}

func New(
	env *bootenv.Context,
	appInstaller *installer.AppInstaller,
	fwInstaller *installer.FwInstaller,
	fwVersionPath, appVersionPath string,
	logger *log.Entry,
) *Orchestrator {
	return &Orchestrator{
		env:            env,
		appInstaller:   appInstaller,
		fwInstaller:    fwInstaller,
		fwVersionPath:  fwVersionPath,
		appVersionPath: appVersionPath,
		log:            logger,
	}
}

// UpdateFirmware runs FwInstaller.Install and stages the resulting
// bootstate in one flush, per §4.9.
func (o *Orchestrator) UpdateFirmware(bundlePath string) error {
	update, err := o.currentUpdateField()
	if err != nil {
		return err
	}

	if err := o.fwInstaller.Install(bundlePath); err != nil {
		o.stageFailureAndFlush(updatestate.FailedFw)
		return err
	}
	o.fwInstaller.Sync()

	o.env.Stage("update_reboot_state", updatestate.Encode(updatestate.IncompleteFw))
	o.env.Stage("update", updatestate.MergeUpdateField(update, true, false))
	return o.env.Flush()
}

// UpdateApplication runs the AppInstaller sequence and stages the
// resulting bootstate. On failure it stages FailedApp — the corrected
// mapping — unless CompatQuirks reproduces the historical FailedFw typo.
func (o *Orchestrator) UpdateApplication(bundlePath string) error {
	update, err := o.currentUpdateField()
	if err != nil {
		return err
	}
	currentSlot, err := o.env.GetChar("application", map[byte]struct{}{'A': {}, 'B': {}})
	if err != nil {
		return err
	}

	newSlot, err := o.appInstaller.Install(bundlePath, currentSlot)
	if err != nil {
		failure := updatestate.FailedApp
		if o.CompatQuirks {
			failure = updatestate.FailedFw
		}
		o.stageFailureAndFlush(failure)
		return err
	}

	o.env.Stage("application", string(newSlot))
	o.env.Stage("update_reboot_state", updatestate.Encode(updatestate.IncompleteApp))
	o.env.Stage("update", updatestate.MergeUpdateField(update, false, true))
	return o.env.Flush()
}

// UpdateFirmwareAndApplication runs the application step then the
// firmware step, staging the combined outcome in one flush. Full success
// stages IncompleteApp, not IncompleteBoth: this is a known source
// artifact (the original only ever records the application half of a
// combined update as complete) that spec.md directs be replicated
// verbatim rather than corrected.
func (o *Orchestrator) UpdateFirmwareAndApplication(fwBundlePath, appBundlePath string) error {
	update, err := o.currentUpdateField()
	if err != nil {
		return err
	}
	currentSlot, err := o.env.GetChar("application", map[byte]struct{}{'A': {}, 'B': {}})
	if err != nil {
		return err
	}

	newSlot, err := o.appInstaller.Install(appBundlePath, currentSlot)
	if err != nil {
		o.stageFailureAndFlush(updatestate.FailedApp)
		return err
	}

	if err := o.fwInstaller.Install(fwBundlePath); err != nil {
		o.env.Stage("application", string(newSlot))
		o.stageFailureAndFlush(updatestate.FailedFw)
		return err
	}
	o.fwInstaller.Sync()

	o.env.Stage("application", string(newSlot))
	o.env.Stage("update_reboot_state", updatestate.Encode(updatestate.IncompleteApp))
	o.env.Stage("update", updatestate.MergeUpdateField(update, true, true))
	return o.env.Flush()
}

// CommitUpdate invokes the bootstate reconciler and reports whether
// anything was committed.
func (o *Orchestrator) CommitUpdate() (bool, error) {
	return reconcileBootstate(o.env, o.fwInstaller, o.log)
}

// AutomaticUpdateApplication implements §4.9's automatic_update_* for the
// application slot: classify the current state, and either perform the
// update, stage NoUpdate (dest not newer), or fall through to commit.
func (o *Orchestrator) AutomaticUpdateApplication(bundlePath string, destVersion Version) (bool, error) {
	return o.automaticUpdate(o.appVersionPath, destVersion, updatestate.AppChanged, func() error {
		return o.UpdateApplication(bundlePath)
	})
}

// AutomaticUpdateFirmware is the firmware-slot counterpart of
// AutomaticUpdateApplication.
func (o *Orchestrator) AutomaticUpdateFirmware(bundlePath string, destVersion Version) (bool, error) {
	return o.automaticUpdate(o.fwVersionPath, destVersion, updatestate.FwChanged, func() error {
		return o.UpdateFirmware(bundlePath)
	})
}

func (o *Orchestrator) automaticUpdate(versionPath string, destVersion Version, changedBit func(string) bool, doUpdate func() error) (bool, error) {
	current, err := ReadVersion(versionPath)
	if err != nil {
		return false, err
	}

	update, err := o.currentUpdateField()
	if err != nil {
		return false, err
	}
	rebootState, err := o.env.Get("update_reboot_state")
	if err != nil {
		return false, err
	}
	flag := updatestate.Decode(rebootState)

	var position byte = '0'
	if changedBit(update) {
		position = '1'
	}
	class := updatestate.Classify(position, flag)

	switch class {
	case updatestate.AfterClean, updatestate.AfterFailure:
		if destVersion > current {
			return true, doUpdate()
		}
		o.env.Stage("update_reboot_state", updatestate.Encode(updatestate.NoUpdate))
		return false, o.env.Flush()
	default:
		return o.CommitUpdate()
	}
}

// RollbackFirmware invokes FwInstaller.Rollback, which swaps the active
// slot back and marks it good.
func (o *Orchestrator) RollbackFirmware() error {
	return o.fwInstaller.Rollback()
}

// RollbackApplication swaps the application slot variable back to
// whichever slot is not currently recorded as active.
func (o *Orchestrator) RollbackApplication() error {
	currentSlot, err := o.env.GetChar("application", map[byte]struct{}{'A': {}, 'B': {}})
	if err != nil {
		return err
	}
	other, _, err := o.appInstaller.TargetSlot(currentSlot)
	if err != nil {
		return err
	}
	o.env.Stage("application", string(other))
	return o.env.Flush()
}

func (o *Orchestrator) currentUpdateField() (string, error) {
	update, err := o.env.Get("update")
	if err != nil {
		return "", err
	}
	if len(update) != 4 {
		return "0000", nil
	}
	return update, nil
}

func (o *Orchestrator) stageFailureAndFlush(flag updatestate.Flag) {
	o.env.Stage("update_reboot_state", updatestate.Encode(flag))
	if err := o.env.Flush(); err != nil {
		o.log.Errorf("orchestrator: failed to flush failure bootstate %s: %v", flag, err)
	}
}

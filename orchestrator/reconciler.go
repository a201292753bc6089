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
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/FSEmbedded/fs-updater-lib-sub000/bootenv"
	"github.com/FSEmbedded/fs-updater-lib-sub000/installer"
	"github.com/FSEmbedded/fs-updater-lib-sub000/updatestate"
)

// reconcileBootstate is the bootstate reconciler of §4.10, kept as a free
// function taking *bootenv.Context rather than a method on Orchestrator:
// the source has Orchestrator and Bootstate importing each other, and this
// is how that cycle is broken (§9 Design Notes).
//
// It reads the in-flight bits of the `update` field and, for each one
// still set, decides whether the corresponding change has now been
// confirmed by the bootloader (clearing the bit) or is still pending
// (leaving it set). If either bit was cleared, the new field is staged and
// flushed; the return value reports whether anything was committed.
func reconcileBootstate(ctx *bootenv.Context, fw *installer.FwInstaller, logger *log.Entry) (committed bool, err error) {
	update, err := ctx.Get("update")
	if err != nil {
		return false, err
	}
	if len(update) != 4 {
		logger.Warnf("reconciler: malformed update field %q, leaving state untouched", update)
		return false, nil
	}

	fwInFlight := updatestate.FwChanged(update)
	appInFlight := updatestate.AppChanged(update)
	if !fwInFlight && !appInFlight {
		return false, nil
	}

	next := update
	changed := false

	if fwInFlight {
		cleared, err := reconcileFirmware(ctx)
		if err != nil {
			return false, err
		}
		if cleared {
			next = updatestate.ClearFwChanged(next)
			changed = true
		}
	}

	if appInFlight {
		cleared, err := reconcileApplication(ctx, fw)
		if err != nil {
			return false, err
		}
		if cleared {
			next = updatestate.ClearAppChanged(next)
			changed = true
		}
	}

	if !changed {
		return false, nil
	}

	ctx.Stage("update", next)
	ctx.Stage("update_reboot_state", updatestate.Encode(updatestate.NoUpdate))
	if err := ctx.Flush(); err != nil {
		return false, err
	}
	return true, nil
}

// reconcileFirmware implements §4.10's firmware branch. "Attempt-history
// indicates failure" is read literally, per §9's Open Questions decision:
// either of the per-slot boot-attempt counters having reached zero, or the
// boot order having reverted to its pre-update value, counts as failure
// alongside a merely-incomplete reboot state. Either way BOOT_ORDER is
// restored to BOOT_ORDER_OLD, staged on ctx for the caller's flush.
func reconcileFirmware(ctx *bootenv.Context) (cleared bool, err error) {
	bootOrder, err := ctx.Get("BOOT_ORDER")
	if err != nil {
		return false, err
	}
	bootOrderOld, err := ctx.Get("BOOT_ORDER_OLD")
	if err != nil {
		return false, err
	}
	rebootState, err := ctx.Get("update_reboot_state")
	if err != nil {
		return false, err
	}
	bootALeft, err := ctx.Get("BOOT_A_LEFT")
	if err != nil {
		return false, err
	}
	bootBLeft, err := ctx.Get("BOOT_B_LEFT")
	if err != nil {
		return false, err
	}

	flag := updatestate.Decode(rebootState)
	countersExhausted := bootALeft == "0" || bootBLeft == "0"
	revertedToOld := bootOrder == bootOrderOld

	cleared := (flag == updatestate.IncompleteFw && revertedToOld) || countersExhausted
	if !cleared {
		return false, nil
	}

	// Either outcome is a closed-out reboot, successful or failed; restore
	// BOOT_ORDER to its pre-update value in the same flush per §4.10.
	if bootOrder != bootOrderOld {
		ctx.Stage("BOOT_ORDER", bootOrderOld)
	}
	return true, nil
}

// reconcileApplication implements §4.10's application branch: the current
// application slot is considered committed once its squashfs image shows
// up as an actively mounted loop device.
func reconcileApplication(ctx *bootenv.Context, fw *installer.FwInstaller) (cleared bool, err error) {
	application, err := ctx.Get("application")
	if err != nil {
		return false, err
	}

	mounted, err := fw.MountedLoopDevices()
	if err != nil {
		return false, err
	}

	switch application {
	case "A":
		return strings.Contains(mounted, "app_a.squashfs"), nil
	case "B":
		return strings.Contains(mounted, "app_b.squashfs"), nil
	default:
		return false, nil
	}
}

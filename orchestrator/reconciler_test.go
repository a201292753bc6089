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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FSEmbedded/fs-updater-lib-sub000/bootenv"
	"github.com/FSEmbedded/fs-updater-lib-sub000/installer"
	"github.com/FSEmbedded/fs-updater-lib-sub000/logging"
	stest "github.com/FSEmbedded/fs-updater-lib-sub000/system/testing"
)

type fakeRW struct {
	vars bootenv.BootVars
}

func newFakeRW(initial bootenv.BootVars) *fakeRW {
	v := make(bootenv.BootVars, len(initial))
	for k, val := range initial {
		v[k] = val
	}
	return &fakeRW{vars: v}
}

func (f *fakeRW) ReadEnv(names ...string) (bootenv.BootVars, error) {
	out := make(bootenv.BootVars, len(names))
	for _, n := range names {
		if v, ok := f.vars[n]; ok {
			out[n] = v
		}
	}
	return out, nil
}

func (f *fakeRW) WriteEnv(vars bootenv.BootVars) error {
	for k, v := range vars {
		f.vars[k] = v
	}
	return nil
}

// S4 — Firmware failure-then-commit, per the scenario table.
func Test_Reconciler_S4_FirmwareFailureThenCommit(t *testing.T) {
	rw := newFakeRW(bootenv.BootVars{
		"update":              "0010",
		"update_reboot_state": "2", // IncompleteFw
		"BOOT_ORDER":          "B A",
		"BOOT_ORDER_OLD":      "A B",
		"BOOT_A_LEFT":         "3",
		"BOOT_B_LEFT":         "0",
		"rauc_cmd":            "rauc.slot=A",
	})
	ctx := bootenv.NewContext(rw, logging.New("reconciler-test"))
	fw := installer.NewFwInstaller(stest.NewTestOSCalls("", 0), "rauc", "losetup", logging.New("reconciler-test"))

	committed, err := reconcileBootstate(ctx, fw, logging.New("reconciler-test"))
	require.NoError(t, err)
	assert.True(t, committed)
	assert.Equal(t, "0000", rw.vars["update"])
	assert.Equal(t, "0", rw.vars["update_reboot_state"])
	assert.Equal(t, "A B", rw.vars["BOOT_ORDER"])
}

func Test_Reconciler_NoInFlightChanges_ReportsNotCommitted(t *testing.T) {
	rw := newFakeRW(bootenv.BootVars{"update": "0000"})
	ctx := bootenv.NewContext(rw, logging.New("reconciler-test"))
	fw := installer.NewFwInstaller(stest.NewTestOSCalls("", 0), "rauc", "losetup", logging.New("reconciler-test"))

	committed, err := reconcileBootstate(ctx, fw, logging.New("reconciler-test"))
	require.NoError(t, err)
	assert.False(t, committed)
}

func Test_Reconciler_ApplicationConfirmedByMountedLoopDevice(t *testing.T) {
	rw := newFakeRW(bootenv.BootVars{
		"update":              "0001",
		"update_reboot_state": "3",
		"application":         "B",
	})
	ctx := bootenv.NewContext(rw, logging.New("reconciler-test"))
	fw := installer.NewFwInstaller(
		stest.NewTestOSCalls("/dev/loop0: []: (/rw_fs/root/application/app_b.squashfs)\n", 0),
		"rauc", "losetup", logging.New("reconciler-test"),
	)

	committed, err := reconcileBootstate(ctx, fw, logging.New("reconciler-test"))
	require.NoError(t, err)
	assert.True(t, committed)
	assert.Equal(t, "0000", rw.vars["update"])
}

func Test_Reconciler_ApplicationNotYetMounted_LeavesStateUntouched(t *testing.T) {
	rw := newFakeRW(bootenv.BootVars{
		"update":              "0001",
		"update_reboot_state": "3",
		"application":         "B",
	})
	ctx := bootenv.NewContext(rw, logging.New("reconciler-test"))
	fw := installer.NewFwInstaller(stest.NewTestOSCalls("/dev/loop0: []: (/rw_fs/root/application/app_a.squashfs)\n", 0), "rauc", "losetup", logging.New("reconciler-test"))

	committed, err := reconcileBootstate(ctx, fw, logging.New("reconciler-test"))
	require.NoError(t, err)
	assert.False(t, committed)
	assert.Equal(t, "0001", rw.vars["update"])
}

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

// Package installer holds the two halves of the atomic update sequence:
// FwInstaller (component C9), a thin wrapper over the opaque external
// firmware-install backend, and AppInstaller (component C8), the
// verify/copy/fsync/rename/flip sequence for the application slot.
package installer

import (
	"bytes"
	"encoding/json"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/FSEmbedded/fs-updater-lib-sub000/errkind"
	"github.com/FSEmbedded/fs-updater-lib-sub000/system"
)

const (
	defaultBackendTimeout = 10 * time.Minute
	killGracePeriod       = 1 * time.Minute
)

// FwStatus mirrors the JSON the firmware-install backend's "status"
// subcommand emits.
type FwStatus struct {
	BootedSlot string     `json:"booted_slot"`
	Slots      []FwSlot   `json:"slots"`
}

type FwSlot struct {
	Bootname   string `json:"bootname"`
	BootStatus string `json:"boot_status"`
}

// FwInstaller wraps the external RAUC-style CLI backend named in §6/§11:
// install, status, mark-good, mark-active, info.
type FwInstaller struct {
	cmd            system.Commander
	binary         string
	losetupBinary  string
	timeout        time.Duration
	log            *log.Entry
}

func NewFwInstaller(cmd system.Commander, binary, losetupBinary string, logger *log.Entry) *FwInstaller {
	return &FwInstaller{
		cmd:           cmd,
		binary:        binary,
		losetupBinary: losetupBinary,
		timeout:       defaultBackendTimeout,
		log:           logger,
	}
}

// Install invokes "install <bundle>"; a non-zero exit carries the backend's
// captured stderr in the returned error, per §4.8.
func (fw *FwInstaller) Install(bundlePath string) error {
	_, stderr, err := fw.run("install", bundlePath)
	if err != nil {
		return errkind.NewFwInstallError(bundlePath, stderr, err)
	}
	return nil
}

// Rollback marks the other slot active then marks it good, the two-step
// sequence §4.8 describes.
func (fw *FwInstaller) Rollback() error {
	if _, stderr, err := fw.run("status", "--output-format=json", "mark-active", "other"); err != nil {
		return errkind.New(errkind.FwRollbackError, stderr, err)
	}
	if _, stderr, err := fw.run("status", "--output-format=json", "mark-good", "other"); err != nil {
		return errkind.New(errkind.FwRollbackError, stderr, err)
	}
	return nil
}

// MarkGood issues the backend's mark-good call for the current slot. It
// only issues that call: it does not compare BOOT_ORDER with BOOT_ORDER_OLD
// and does not rewrite BOOT_ORDER, and no orchestrator operation calls it.
func (fw *FwInstaller) MarkGood() error {
	_, stderr, err := fw.run("status", "--output-format=json", "mark-good")
	if err != nil {
		return errkind.New(errkind.FwInstallError, stderr, err)
	}
	return nil
}

// Status parses the backend's "status --output-format=json" output.
func (fw *FwInstaller) Status() (FwStatus, error) {
	stdout, stderr, err := fw.run("status", "--output-format=json")
	if err != nil {
		return FwStatus{}, errkind.New(errkind.FwInstallError, stderr, err)
	}
	var status FwStatus
	if err := json.Unmarshal([]byte(stdout), &status); err != nil {
		return FwStatus{}, errkind.New(errkind.BadFormat, "fw status", err)
	}
	return status, nil
}

// Info runs "info <bundle>" and returns its raw JSON output unparsed,
// since callers only ever surface it verbatim.
func (fw *FwInstaller) Info(bundlePath string) (string, error) {
	stdout, stderr, err := fw.run("info", "--output-format=json", bundlePath)
	if err != nil {
		return "", errkind.New(errkind.FwInstallError, stderr, err)
	}
	return stdout, nil
}

// MountedLoopDevices shells out to a "losetup -a"-equivalent and returns
// its raw listing, which the bootstate reconciler greps for the mounted
// app_a.squashfs/app_b.squashfs names.
func (fw *FwInstaller) MountedLoopDevices() (string, error) {
	cmd := fw.cmd.Command(fw.losetupBinary, "-a")
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	if err := cmd.Run(); err != nil {
		return "", errkind.New(errkind.LoopDeviceQueryError, fw.losetupBinary, err)
	}
	return stdout.String(), nil
}

// Sync issues a filesystem sync barrier, required by §4.8 after every
// Install call.
func (fw *FwInstaller) Sync() {
	syscall.Sync()
}

func (fw *FwInstaller) run(args ...string) (stdout, stderr string, err error) {
	cmd := fw.cmd.Command(fw.binary, args...)

	var outBuf, errBuf bytes.Buffer
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if startErr := cmd.Start(); startErr != nil {
		return "", "", errors.Wrap(startErr, "installer: could not execute firmware backend")
	}

	killer := newDelayKiller(fw.log, cmd.Process, fw.timeout, killGracePeriod)
	defer killer.Stop()

	waitErr := cmd.Wait()
	stdout = strings.TrimSuffix(outBuf.String(), "\n")
	stderr = strings.TrimSuffix(errBuf.String(), "\n")
	if waitErr != nil {
		return stdout, stderr, errors.Wrap(waitErr, "installer: firmware backend terminated abnormally")
	}
	return stdout, stderr, nil
}

// delayKiller hard-kills a runaway external process, adapting the update
// module's own timeout guard: a misbehaving firmware-install backend is a
// real operational hazard on embedded targets with no supervisor to fall
// back on.
type delayKiller struct {
	proc       *os.Process
	killer     *time.Timer
	hardKiller *time.Timer
}

func newDelayKiller(logger *log.Entry, proc *os.Process, killAfter, kill9After time.Duration) *delayKiller {
	k := &delayKiller{proc: proc}
	k.killer = time.AfterFunc(killAfter, func() {
		logger.Errorf("process %d timed out, sending SIGTERM", k.proc.Pid)
		_ = syscall.Kill(-k.proc.Pid, syscall.SIGTERM)
	})
	k.hardKiller = time.AfterFunc(killAfter+kill9After, func() {
		logger.Errorf("process %d timed out, sending SIGKILL", k.proc.Pid)
		_ = syscall.Kill(-k.proc.Pid, syscall.SIGKILL)
	})
	return k
}

func (k *delayKiller) Stop() {
	k.killer.Stop()
	k.hardKiller.Stop()
}

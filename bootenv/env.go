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

// Package bootenv is the thread-safe typed accessor over the persisted
// bootloader key/value environment (§4.1, component C1). It talks to the
// real store through fw_printenv/fw_setenv, the same two subprocesses the
// reference client's own UBootEnv wraps, generalized here with an explicit
// stage/flush batching discipline on top.
package bootenv

import (
	"bufio"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/FSEmbedded/fs-updater-lib-sub000/system"
)

// BootVars is a raw bag of bootloader environment variables.
type BootVars map[string]string

// ReadWriter is the low-level persisted-store contract. Env implements it
// against fw_printenv/fw_setenv; tests substitute a fake system.Commander.
type ReadWriter interface {
	ReadEnv(names ...string) (BootVars, error)
	WriteEnv(vars BootVars) error
}

// Env talks to the bootloader environment via the fw_printenv/fw_setenv
// command-line tools, exactly the way the reference client's own
// installer.UBootEnv does, using -s to make the batched write atomic in the
// eyes of the underlying uboot-env library.
type Env struct {
	cmd        system.Commander
	configPath string
}

func New(cmd system.Commander, configPath string) *Env {
	return &Env{cmd: cmd, configPath: configPath}
}

func (e *Env) ReadEnv(names ...string) (BootVars, error) {
	args := append([]string{"-c", e.configPath}, names...)
	cmd := e.cmd.Command("fw_printenv", args...)
	return runPrintenv(cmd)
}

func (e *Env) WriteEnv(vars BootVars) error {
	if len(vars) == 0 {
		return nil
	}

	cmd := e.cmd.Command("fw_setenv", "-c", e.configPath, "-s", "-")
	pipe, err := cmd.StdinPipe()
	if err != nil {
		return errors.Wrap(err, "bootenv: could not set up pipe to fw_setenv")
	}
	if err := cmd.Start(); err != nil {
		pipe.Close()
		return errors.Wrap(err, "bootenv: could not execute fw_setenv")
	}
	for k, v := range vars {
		if _, err := pipe.Write([]byte(k + "=" + v + "\n")); err != nil {
			pipe.Close()
			return errors.Wrap(err, "bootenv: error writing variable to fw_setenv")
		}
	}
	pipe.Close()
	if err := cmd.Wait(); err != nil {
		return errors.Wrap(err, "bootenv: fw_setenv returned failure")
	}
	return nil
}

func runPrintenv(cmd *system.Cmd) (BootVars, error) {
	cmdReader, err := cmd.StdoutPipe()
	if err != nil {
		return nil, errors.Wrap(err, "bootenv: error creating stdout pipe")
	}

	scanner := bufio.NewScanner(cmdReader)

	if err := cmd.Start(); err != nil {
		return nil, errors.Wrap(err, "bootenv: error starting fw_printenv")
	}

	vars := make(BootVars)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			log.Error("bootenv: malformed variable or error from fw_printenv: ", line)
			return nil, errors.New("bootenv: invalid variable or error: " + line)
		}
		vars[parts[0]] = parts[1]
	}

	if err := cmd.Wait(); err != nil {
		return nil, errors.Wrap(err, "bootenv: fw_printenv returned failure")
	}

	return vars, nil
}

// ParseU8 parses s as an unsigned decimal no greater than 255, per §4.1's
// "u8" conversion rule.
func ParseU8(s string) (uint8, error) {
	n, err := strconv.ParseUint(s, 10, 8)
	if err != nil {
		return 0, err
	}
	return uint8(n), nil
}

// ParseChar accepts s iff it is exactly one byte long.
func ParseChar(s string) (byte, error) {
	if len(s) != 1 {
		return 0, errors.Errorf("bootenv: %q is not a single character", s)
	}
	return s[0], nil
}

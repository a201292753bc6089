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

package bootenv

import (
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/FSEmbedded/fs-updater-lib-sub000/errkind"
)

// Context is the BootEnv context of §3's Lifecycle paragraph: created once
// per orchestrator call, buffering staged writes in memory until a single
// flush commits the whole batch. A package-level mutex (shared across every
// Context built on the same ReadWriter would be wrong; instead each
// long-lived Context owns its own mutex) serializes get/flush against
// concurrent callers in the same process, the way §5 requires.
type Context struct {
	rw     ReadWriter
	log    *log.Entry
	mu     sync.Mutex
	staged BootVars
}

func NewContext(rw ReadWriter, logger *log.Entry) *Context {
	return &Context{
		rw:     rw,
		log:    logger,
		staged: make(BootVars),
	}
}

// Get reads a single variable, failing with BootEnvAccess if it is absent.
func (c *Context) Get(name string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	vars, err := c.rw.ReadEnv(name)
	if err != nil {
		return "", errkind.New(errkind.BootEnvAccess, name, err)
	}
	v, ok := vars[name]
	if !ok {
		return "", errkind.New(errkind.BootEnvAccess, name, nil)
	}
	return v, nil
}

// GetU8 reads name and parses it as an unsigned decimal <= 255, checking
// membership in allowed.
func (c *Context) GetU8(name string, allowed map[uint8]struct{}) (uint8, error) {
	raw, err := c.Get(name)
	if err != nil {
		return 0, err
	}
	v, err := ParseU8(raw)
	if err != nil {
		return 0, errkind.New(errkind.BootEnvNotAllowed, name, err)
	}
	if allowed != nil {
		if _, ok := allowed[v]; !ok {
			return 0, errkind.New(errkind.BootEnvNotAllowed, name, nil)
		}
	}
	return v, nil
}

// GetChar reads name and parses it as a single character, checking
// membership in allowed.
func (c *Context) GetChar(name string, allowed map[byte]struct{}) (byte, error) {
	raw, err := c.Get(name)
	if err != nil {
		return 0, err
	}
	v, err := ParseChar(raw)
	if err != nil {
		return 0, errkind.New(errkind.BootEnvNotAllowed, name, err)
	}
	if allowed != nil {
		if _, ok := allowed[v]; !ok {
			return 0, errkind.New(errkind.BootEnvNotAllowed, name, nil)
		}
	}
	return v, nil
}

// GetString reads name and checks membership in allowed.
func (c *Context) GetString(name string, allowed map[string]struct{}) (string, error) {
	raw, err := c.Get(name)
	if err != nil {
		return "", err
	}
	if allowed != nil {
		if _, ok := allowed[raw]; !ok {
			return "", errkind.New(errkind.BootEnvNotAllowed, name, nil)
		}
	}
	return raw, nil
}

// Stage buffers a pending write; it is not visible to Get until Flush
// commits it, matching §4.1's "buffers a pending write" contract.
func (c *Context) Stage(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.staged[key] = value
	c.log.Debugf("staged %s=%s", key, value)
}

// Pending reports whether any writes are currently staged.
func (c *Context) Pending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.staged) > 0
}

// Flush writes every staged pair in one WriteEnv call and clears the
// staged map on success. A failure leaves the staged map intact so a
// caller may retry, but per §4.1 the prior writes of this batch are
// undefined from the caller's point of view: the engine never assumes
// partial success and always re-derives state from a fresh Get.
func (c *Context) Flush() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.staged) == 0 {
		return nil
	}

	if err := c.rw.WriteEnv(c.staged); err != nil {
		return errkind.New(errkind.BootEnvWrite, "", err)
	}

	c.log.Debugf("flushed %d variable(s)", len(c.staged))
	c.staged = make(BootVars)
	return nil
}

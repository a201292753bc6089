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
	"testing"

	"github.com/stretchr/testify/assert"

	stest "github.com/FSEmbedded/fs-updater-lib-sub000/system/testing"
)

func Test_EnvRead_HaveVariable_ReadsVariable(t *testing.T) {
	runner := stest.NewTestOSCalls("arch=arm", 0)
	env := New(runner, "/etc/fw_env.config")

	vars, err := env.ReadEnv("arch")
	assert.NoError(t, err)
	assert.Equal(t, "arm", vars["arch"])
}

func Test_EnvRead_MultipleVariables_ReadsAll(t *testing.T) {
	runner := stest.NewTestOSCalls("var1=1\nvar2=2\n", 0)
	env := New(runner, "/etc/fw_env.config")

	vars, err := env.ReadEnv("var1", "var2")
	assert.NoError(t, err)
	assert.Equal(t, "1", vars["var1"])
	assert.Equal(t, "2", vars["var2"])
}

func Test_EnvRead_CommandFails_ReturnsError(t *testing.T) {
	runner := stest.NewTestOSCalls("Cannot parse config file: No such file or directory\n", 1)
	env := New(runner, "/etc/fw_env.config")

	_, err := env.ReadEnv("arch")
	assert.Error(t, err)
}

func Test_EnvWrite_OSResponseOK_WritesOK(t *testing.T) {
	runner := stest.NewTestOSCalls("", 0)
	env := New(runner, "/etc/fw_env.config")

	assert.NoError(t, env.WriteEnv(BootVars{"bootcnt": "3"}))
}

func Test_EnvWrite_OSResponseError_Fails(t *testing.T) {
	runner := stest.NewTestOSCalls("", 1)
	env := New(runner, "/etc/fw_env.config")

	assert.Error(t, env.WriteEnv(BootVars{"bootcnt": "3"}))
}

func Test_EnvWrite_NoVariables_NoOp(t *testing.T) {
	runner := stest.NewTestOSCalls("", 1)
	env := New(runner, "/etc/fw_env.config")

	assert.NoError(t, env.WriteEnv(BootVars{}))
}

func Test_ParseU8(t *testing.T) {
	v, err := ParseU8("7")
	assert.NoError(t, err)
	assert.Equal(t, uint8(7), v)

	_, err = ParseU8("not-a-number")
	assert.Error(t, err)

	_, err = ParseU8("256")
	assert.Error(t, err)
}

func Test_ParseChar(t *testing.T) {
	v, err := ParseChar("A")
	assert.NoError(t, err)
	assert.Equal(t, byte('A'), v)

	_, err = ParseChar("AB")
	assert.Error(t, err)

	_, err = ParseChar("")
	assert.Error(t, err)
}

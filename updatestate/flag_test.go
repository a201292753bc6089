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

package updatestate

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func Test_Decode_RoundTripsEncode(t *testing.T) {
	for f := NoUpdate; f <= IncompleteBothRollback; f++ {
		assert.Equal(t, f, Decode(Encode(f)))
	}
}

func Test_Decode_OutOfRange_ReturnsUnknown(t *testing.T) {
	assert.Equal(t, Unknown, Decode("13"))
	assert.Equal(t, Unknown, Decode("-1"))
	assert.Equal(t, Unknown, Decode("not-a-number"))
	assert.Equal(t, Unknown, Decode(""))
}

func Test_FlagString_KnownAndUnknown(t *testing.T) {
	assert.Equal(t, "NoUpdate", NoUpdate.String())
	assert.Equal(t, "FailedApp", FailedApp.String())
	assert.Equal(t, "Unknown", Unknown.String())
	assert.Equal(t, "Unknown", Flag(99).String())
}

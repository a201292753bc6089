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

// Package logging builds component-tagged loggers that are passed
// explicitly into constructors, rather than pulled from a package-level
// global the way the reference client's older logger singleton worked.
package logging

import (
	"os"

	log "github.com/sirupsen/logrus"
)

// Base is the single logrus.Logger instance created once at process start
// and then handed out, per component, via New. Exported so a caller can
// tune level/output before constructing any component logger.
var Base = newBase()

func newBase() *log.Logger {
	l := log.New()
	l.SetOutput(os.Stderr)
	l.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	l.SetLevel(log.InfoLevel)
	return l
}

// New returns a logger entry tagged with the given component name, e.g.
// logging.New("bootenv"), logging.New("orchestrator"). Safe for concurrent
// use, same as the underlying logrus.Logger.
func New(component string) *log.Entry {
	return Base.WithField("module", component)
}

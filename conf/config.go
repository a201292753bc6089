// Copyright 2020 Northern.tech AS
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

// Package conf loads the engine's filesystem/subprocess path table from an
// optional JSON override file, falling back to the compiled-in defaults of
// §6 when no file is present.
package conf

import (
	"encoding/json"
	"io/ioutil"
	"os"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// LoadConfig parses a paths.json-style override file and loads its values
// into outConfig, falling back to fallbackConfigFile for any settings the
// main config leaves out. Neither file being present is not an error; it is
// only an error for a present file to fail to parse.
func LoadConfig(mainConfigFile string, fallbackConfigFile string, outConfig ConfigWithDefaultsChecker) error {
	var filesLoadedCount int

	if err := loadConfigFile(fallbackConfigFile, outConfig, &filesLoadedCount); err != nil {
		return err
	}
	if err := loadConfigFile(mainConfigFile, outConfig, &filesLoadedCount); err != nil {
		return err
	}

	log.Debugf("loaded %d configuration file(s)", filesLoadedCount)

	outConfig.CheckConfigDefaults()

	if filesLoadedCount == 0 {
		log.Info("no configuration files present, using defaults")
	}

	return nil
}

// ConfigWithDefaultsChecker is implemented by any config struct that needs
// to fill in zero-valued fields after a (possibly partial) file load.
type ConfigWithDefaultsChecker interface {
	CheckConfigDefaults()
}

func loadConfigFile(configFile string, outConfig interface{}, filesLoadedCount *int) error {
	if configFile == "" {
		return nil
	}
	if _, err := os.Stat(configFile); os.IsNotExist(err) {
		log.Debug("configuration file does not exist: ", configFile)
		return nil
	}

	if err := readConfigFile(outConfig, configFile); err != nil {
		log.Errorf("error loading configuration from file %s: %s", configFile, err.Error())
		return err
	}

	(*filesLoadedCount)++
	log.Info("loaded configuration file: ", configFile)
	return nil
}

func readConfigFile(config interface{}, fileName string) error {
	raw, err := ioutil.ReadFile(fileName)
	if err != nil {
		return err
	}

	if err := json.Unmarshal(raw, config); err != nil {
		return errors.Wrap(err, "error parsing configuration file")
	}

	return nil
}

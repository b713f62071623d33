// Copyright 2025 The xfs-spaceevac Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cfg

import "fmt"

func isValidLogRotateConfig(c *LogRotateConfig) error {
	if c.MaxFileSizeMb <= 0 {
		return fmt.Errorf("log-rotate-max-size-mb must be at least 1")
	}
	if c.BackupFileCount < 0 {
		return fmt.Errorf("log-rotate-backup-count must be 0 (retain all) or positive")
	}
	return nil
}

// ValidateConfig returns a non-nil error if config is not usable.
func ValidateConfig(config *Config) error {
	if err := isValidLogRotateConfig(&config.Logging.LogRotate); err != nil {
		return fmt.Errorf("logging.log-rotate: %w", err)
	}
	if config.Logging.Severity.Rank() < 0 {
		return fmt.Errorf("logging.severity: invalid value %q", config.Logging.Severity)
	}
	return nil
}

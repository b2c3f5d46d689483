// Copyright (c) 2015 The btcsuite developers
// Copyright (c) 2025 The satpayout developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package cfgutil

import (
	"os"
	"os/user"
	"path/filepath"
	"strings"
)

// FileExists reports whether the named file or directory exists.
func FileExists(filePath string) (bool, error) {
	_, err := os.Stat(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// CleanAndExpandPath expands environment variables and a leading ~ in the
// passed path, cleans the result, and returns it.
func CleanAndExpandPath(path string) string {
	if path == "" {
		return ""
	}

	// Expand initial ~ to the current user's home directory, or ~otheruser
	// to otheruser's home directory.  On Windows, both forward and backward
	// slashes can be used.
	if strings.HasPrefix(path, "~") {
		var homeDir string

		userName, rest, _ := strings.Cut(path[1:], "/")
		if userName == "" {
			homeDir, _ = os.UserHomeDir()
		} else if u, err := user.Lookup(userName); err == nil {
			homeDir = u.HomeDir
		}
		if homeDir != "" {
			path = filepath.Join(homeDir, rest)
		}
	}

	return filepath.Clean(os.ExpandEnv(path))
}

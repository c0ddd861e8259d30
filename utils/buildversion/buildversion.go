/*
Copyright 2024-Present Couchbase, Inc.

Use of this software is governed by the Business Source License included in
the file licenses/BSL-Couchbase.txt.  As of the Change Date specified in that
file, in accordance with the Business Source License, use of this software will
be governed by the Apache License, Version 2.0, included in the file
licenses/APL2.txt.
*/

package buildversion

import (
	"runtime/debug"

	"golang.org/x/mod/semver"
)

const devVersion = "v0.0.0-dev"

// GetVersion returns the version the named module was built at, falling back
// to a development version when the build information is unavailable or the
// module was built from a local checkout.
func GetVersion(modulePath string) string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return devVersion
	}

	return versionFromBuildInfo(info, modulePath)
}

func versionFromBuildInfo(info *debug.BuildInfo, modulePath string) string {
	version := ""
	if info.Main.Path == modulePath {
		version = info.Main.Version
	} else {
		for _, dep := range info.Deps {
			if dep.Path == modulePath {
				version = dep.Version
				if dep.Replace != nil {
					version = dep.Replace.Version
				}
				break
			}
		}
	}

	// local builds report "(devel)" which is not a valid semantic version
	if !semver.IsValid(version) {
		return devVersion
	}

	return semver.Canonical(version)
}

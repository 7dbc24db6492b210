/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package libinfo

import (
	"debug/buildinfo"
	"strings"
	"sync"

	"runtime/debug"
)

const LibName = "go-smartkit"

const libPath = "github.com/acronis/" + LibName

var libVersion string
var libVersionOnce sync.Once

func initLibVersion() {
	var buildInfo *buildinfo.BuildInfo
	if bi, ok := debug.ReadBuildInfo(); ok {
		buildInfo = bi
	}
	if libVersion = extractLibVersion(buildInfo, libPath); libVersion == "" {
		libVersion = "v0.0.0"
	}
}

// extractLibVersion looks for the module (or its /vN major version) in the build dependencies.
func extractLibVersion(buildInfo *buildinfo.BuildInfo, modulePath string) string {
	if buildInfo == nil {
		return ""
	}
	for _, dep := range buildInfo.Deps {
		if dep.Path == modulePath || isMajorVersionPath(dep.Path, modulePath) {
			return dep.Version
		}
	}
	return ""
}

// isMajorVersionPath reports whether path is modulePath with a /vN major version suffix (N >= 2).
func isMajorVersionPath(path, modulePath string) bool {
	major, ok := strings.CutPrefix(path, modulePath+"/v")
	if !ok || major == "" || major[0] == '0' {
		return false
	}
	for i := 0; i < len(major); i++ {
		if major[i] < '0' || major[i] > '9' {
			return false
		}
	}
	return major != "1"
}

// GetLibVersion returns the version of the library the binary is built with, or v0.0.0 if it's unknown.
func GetLibVersion() string {
	libVersionOnce.Do(initLibVersion)
	return libVersion
}

// UserAgent is sent with every request to FHIR and authorization servers.
func UserAgent() string {
	return LibName + "/" + GetLibVersion()
}

// LogPrefix is prepended to messages of loggers passed to the library.
func LogPrefix() string {
	return "[" + LibName + "/" + GetLibVersion() + "] "
}

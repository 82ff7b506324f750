// Package version exposes build metadata for the telemetry binaries.
//
// Values are injected at build time with ldflags:
//
//	go build -ldflags "\
//	  -X github.com/ncobase/telemetry/version.Version=1.2.3 \
//	  -X github.com/ncobase/telemetry/version.Revision=abc1234 \
//	  -X 'github.com/ncobase/telemetry/version.BuiltAt=$(date -u +%FT%TZ)'"
//
// Anything left unset falls back to the module and VCS data recorded by
// the go toolchain (debug.ReadBuildInfo).
package version

// Package ecode provides the short, uniform field messages used when the
// telemetry packages reject input, e.g. "name required" or
// "value invalid". Callers wrap them with a package sentinel error:
//
//	return fmt.Errorf("%w: %s", ErrInvalidMetric, ecode.FieldIsRequired("name"))
package ecode

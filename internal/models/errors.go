package models

import "fmt"

// ConfigurationError reports malformed or inconsistent parameters detected
// at construction time. It is always fatal and is raised before any
// sampling begins.
type ConfigurationError struct {
	// Param names the offending parameter, when known
	Param string

	// Reason describes what is wrong with it
	Reason string
}

func (e *ConfigurationError) Error() string {
	if e.Param == "" {
		return fmt.Sprintf("configuration error: %s", e.Reason)
	}
	return fmt.Sprintf("configuration error: %s: %s", e.Param, e.Reason)
}

// NewConfigurationError builds a ConfigurationError for the named parameter.
func NewConfigurationError(param, format string, args ...interface{}) *ConfigurationError {
	return &ConfigurationError{Param: param, Reason: fmt.Sprintf(format, args...)}
}

// DataError reports a label map referencing a label absent from the
// configured catalog, or an external array resource that cannot be parsed
// to the expected shape. Fatal for the run: silently dropping samples
// would bias training.
type DataError struct {
	// Path is the offending file, when the error originates from disk
	Path string

	// Reason describes the inconsistency
	Reason string
}

func (e *DataError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("data error: %s", e.Reason)
	}
	return fmt.Sprintf("data error: %s: %s", e.Path, e.Reason)
}

// NewDataError builds a DataError attached to the given path (may be empty).
func NewDataError(path, format string, args ...interface{}) *DataError {
	return &DataError{Path: path, Reason: fmt.Sprintf(format, args...)}
}

// ResourceError reports a checkpoint that is missing or incompatible with
// the current model topology when resuming training.
type ResourceError struct {
	// Path is the checkpoint location
	Path string

	// Expected and Found describe the topology mismatch, when applicable
	Expected string
	Found    string

	// Reason describes the failure when it is not a topology mismatch
	Reason string
}

func (e *ResourceError) Error() string {
	if e.Expected != "" || e.Found != "" {
		return fmt.Sprintf("resource error: %s: topology mismatch: expected %q, found %q",
			e.Path, e.Expected, e.Found)
	}
	return fmt.Sprintf("resource error: %s: %s", e.Path, e.Reason)
}

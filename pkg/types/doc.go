// Package types defines the identity, audit, and backup records shared by the
// epirec trust core, the configuration it is attached with, and the sentinel
// errors callers match with errors.Is.
package types

// Package confloader loads configuration for the RollMesh binaries.
//
// Priority (highest to lowest):
//
//  1. Command-line overrides
//  2. ROLLMESH_ environment variables
//  3. The YAML configuration file
//  4. Defaults already present in the target struct
//
// Watcher reports edits of the configuration file so long-running
// binaries can re-read reloadable settings such as the log level.
package confloader

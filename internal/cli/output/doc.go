// Package output renders rollmesh-cli results.
//
// Results are printed as an aligned table by default, or as JSON or YAML
// for scripting. Table columns come from exported struct fields; a
// `table:"-"` tag hides a field and `table:"wide"` shows it only with
// --wide.
package output

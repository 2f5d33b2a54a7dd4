// Package internaldefs holds the metric names and bucket bounds used by the
// exporters.
//
// # What this package must NOT do
//
//   - Import an exporter package.
//   - Perform I/O.
package internaldefs

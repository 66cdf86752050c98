// Package internaldefs exposes the stable metric name definitions shared
// by exporter implementations.
//
// Counter definitions live here so every exporter publishes identical
// metric names; changing a definition here changes all exporters
// simultaneously.
//
// # What this package must NOT do
//
//   - Import any exporter package.
//   - Perform I/O.
package internaldefs

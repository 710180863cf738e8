// Package preflight provides readiness checks for the filesystem paths,
// external binaries and network shares that quacwatch depends on.
//
// These checks run in two contexts:
//   - The daemon calls RunAll at startup and logs every failed check as a
//     warning; failures never prevent the daemon from starting.
//   - The CLI "quacwatch status" command renders the same results, plus the
//     dependency snapshot from CheckSystemDeps and the metrics endpoint probe.
//
// Optional features are skipped when unconfigured.
package preflight

// Package daemonrun hosts the process runtime around the daemon: signal
// handling, the per-run log file and its quacwatch.log pointer, log
// retention, and the pid file.
package daemonrun

// Package main hosts the quacwatch CLI entrypoint and command graph.
//
// The Cobra-based command tree runs the daemon in the foreground and offers
// operator tools that work directly on the filesystem queue: job listing and
// inspection, requeueing stuck or failed jobs, ledger maintenance, share
// mounting, configuration scaffolding and a preflight status report. None of
// them need the daemon to be running.
//
// Keep this package lean: add new functionality by extending the internal
// packages first, then surface it through dedicated commands or flags here.
package main

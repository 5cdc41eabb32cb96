// Package health implements the Checker interface (Check(ctx) Result,
// Type() CheckType) used by cmd/boxserver's HTTP health endpoint: HTTP,
// TCP, and Exec checkers carried from the teacher for probing sidecar
// dependencies, plus DiscSetChecker and WriteLockChecker for this module's
// own concerns — disc-set reachability and per-account write-lock
// visibility.
package health

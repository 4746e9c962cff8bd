// Package understory builds a symbol-level dependency graph over a Python
// workspace: which functions, classes, and variables each symbol references,
// which symbols reference them, and how a change propagates between files.
package understory

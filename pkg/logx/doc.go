// Package logx provides a small structured logging facade over zerolog
// with runtime-swappable console/file sinks.
//
// The zero value of Logger is a safe no-op, so components can embed one
// without nil checks.
package logx

// Package log provides the leveled Logger used across stepgraph.
//
// Messages are printf-style. DefaultLogger writes through the standard
// library logger with a "[stepgraph] " prefix, GologLogger adapts
// kataras/golog, and NoOpLogger discards everything. WithPrefix tags the
// messages of one component:
//
//	logger := log.WithPrefix(log.NewDefaultLogger(log.LogLevelDebug), "email")
//	logger.Info("run %s suspended at %s", runID, step)
//
// Levels can be read from configuration with ParseLevel.
package log

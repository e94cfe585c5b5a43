// Package klog provides the daemon's single shared logger.
//
// Every component takes a *logrus.Entry at construction and annotates it
// with its own component field, the way network/p2p/server.go carries a
// srv.log *logrus.Entry down into every subsystem.
package klog

import (
	"os"

	"github.com/sirupsen/logrus"
)

// New builds the root logger for the daemon. level is parsed with
// logrus.ParseLevel; an invalid level falls back to Info.
func New(levelName string) *logrus.Entry {
	logger := logrus.New()
	logger.Out = os.Stderr
	logger.Formatter = &logrus.TextFormatter{
		FullTimestamp: true,
	}

	level, err := logrus.ParseLevel(levelName)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	return logrus.NewEntry(logger)
}

// Component returns a child entry tagged with the given component name.
func Component(base *logrus.Entry, name string) *logrus.Entry {
	return base.WithField("component", name)
}

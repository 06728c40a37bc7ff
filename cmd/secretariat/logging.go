package main

import (
	"strings"

	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-logger/glog"

	"github.com/betagouv/secretariat"
)

var _ secretariat.Logger = glog.Logger(nil)

// newLogger builds the root logger, components take named children
// through GetLogger. Levels other than debug and trace keep the glog
// default.
func newLogger(level, format string) *glog.BaseLogger {
	opts := options(
		glog.WithName("secretariat"),
		glog.WithAddSource(false),
		glog.WithRichErrorHandler(errors.ToSlogAttributes),
	)

	switch strings.ToLower(level) {
	case "debug", "trace":
		opts = append(opts, glog.WithLevel(glog.Trace))
	}

	if strings.EqualFold(format, "pretty") {
		opts = append(opts, glog.WithLoggerTypePretty())
	}

	return glog.NewLogger(opts...)
}

func options[T any](opts ...T) []T {
	return opts
}

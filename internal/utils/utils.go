package utils

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
)

// Log is the process-wide logger. It writes to stderr so progress lines never
// mix with table output on stdout.
var Log = logrus.New()

// SetLogLevel maps the --loglevel names onto logrus levels. Trace and panic
// are not offered.
func SetLogLevel(level string) error {
	lvl, ok := map[string]logrus.Level{
		"":        logrus.InfoLevel,
		"debug":   logrus.DebugLevel,
		"info":    logrus.InfoLevel,
		"warn":    logrus.WarnLevel,
		"warning": logrus.WarnLevel,
		"error":   logrus.ErrorLevel,
		"fatal":   logrus.FatalLevel,
	}[strings.ToLower(level)]
	if !ok {
		return fmt.Errorf("bad log level %q (available: debug, info, warn, error, fatal)", level)
	}
	Log.SetLevel(lvl)
	return nil
}

// EnsureParentDir creates the directory that will hold path, if any.
func EnsureParentDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

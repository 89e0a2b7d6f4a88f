// Package logging configures the sync log: every cycle's actions go to
// an append-only file, and a console hook mirrors entries to stdout at a
// verbosity-dependent level.
package logging

import (
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// Setup returns a logger writing debug-and-up to the log file. Console
// output is info-and-up, or debug-and-up when verbose is set, so partial
// failures can be diagnosed from the file without re-running verbosely.
func Setup(logFile string, verbose bool) (*logrus.Logger, func() error, error) {
	file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open log file %s: %w", logFile, err)
	}

	logger := logrus.New()
	logger.SetOutput(file)
	logger.SetLevel(logrus.DebugLevel)
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
		DisableColors:   true,
	})

	consoleLevel := logrus.InfoLevel
	if verbose {
		consoleLevel = logrus.DebugLevel
	}
	logger.AddHook(&consoleHook{
		out:   os.Stdout,
		level: consoleLevel,
		formatter: &logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "15:04:05",
		},
	})

	return logger, file.Close, nil
}

// consoleHook mirrors log entries to a second writer at its own level.
type consoleHook struct {
	out       io.Writer
	level     logrus.Level
	formatter logrus.Formatter
}

func (h *consoleHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h *consoleHook) Fire(entry *logrus.Entry) error {
	if entry.Level > h.level {
		return nil
	}
	line, err := h.formatter.Format(entry)
	if err != nil {
		return err
	}
	_, err = h.out.Write(line)
	return err
}

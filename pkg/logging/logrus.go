package logging

import (
	"io"

	"github.com/sirupsen/logrus"
)

const (
	FormatText = "text"
	FormatJSON = "json"
)

// Logrus represents the logrus logger
type Logrus struct {
	level  string
	format string
	output io.Writer
	logger *logrus.Logger
}

// NewLogrus creates a new logrus instance. Unknown levels fall back to info.
func NewLogrus(level, format string, output io.Writer) *Logrus {
	log := logrus.New()
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		parsed = logrus.InfoLevel
	}
	log.SetLevel(parsed)
	if format == FormatJSON {
		log.SetFormatter(&logrus.JSONFormatter{TimestampFormat: "2006-01-02 15:04:05"})
	} else {
		log.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05",
		})
	}
	log.SetOutput(output)

	return &Logrus{level: level, format: format, output: output, logger: log}
}

// Get returns a logrus entry tagged with the component context
func (l *Logrus) Get(context string) *logrus.Entry {
	return l.logger.WithFields(logrus.Fields{
		"Context": context,
	})
}

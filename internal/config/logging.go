package config

import (
	"github.com/cockroachdb/errors"
	"github.com/sirupsen/logrus"
)

// ConfigureLogging applies the log level and picks JSON output in production.
func (c *Config) ConfigureLogging() error {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return errors.Wrapf(err, "LOG_LEVEL %q", c.LogLevel)
	}
	logrus.SetLevel(level)
	if c.IsProduction() {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return nil
}

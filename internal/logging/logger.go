// Package logging builds the logrus logger shared by the server and the
// audit consumer.
package logging

import (
    "os"
    "strings"

    "github.com/sirupsen/logrus"
)

// New returns a logger writing to stdout.  Production uses the JSON
// formatter so that log shippers can index fields; other environments get
// the human friendly text formatter.  Unknown levels fall back to info.
func New(env, level string) *logrus.Logger {
    l := logrus.New()
    l.SetOutput(os.Stdout)

    switch strings.ToLower(env) {
    case "prod", "production":
        l.SetFormatter(&logrus.JSONFormatter{})
    default:
        l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
    }

    lvl, err := logrus.ParseLevel(level)
    if err != nil {
        lvl = logrus.InfoLevel
    }
    l.SetLevel(lvl)
    return l
}

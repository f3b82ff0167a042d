// Package logging holds formatting helpers on top of go-goodies/log.
package logging

import (
	"fmt"

	"github.com/n0needt0/go-goodies/log"
)

// InfoLogger is the plain info sink of a go-goodies logger
type InfoLogger interface {
	Info(msg string)
}

type defaultLogger struct{}

func (defaultLogger) Info(msg string) {
	log.Info(msg)
}

// Infof formats the message before handing it to log.Info. The pinned
// log.Infof passes its args as a single slice to Sprintf.
func Infof(format string, args ...any) {
	InfofTo(defaultLogger{}, format, args...)
}

// InfofTo is Infof against an explicit logger
func InfofTo(l InfoLogger, format string, args ...any) {
	l.Info(fmt.Sprintf(format, args...))
}

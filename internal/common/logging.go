package common

import (
	"io"
	"log"
	"os"
)

// ExitFatal is the process status for faults that are not an ordinary
// "nothing to do" outcome.
const ExitFatal = 2

var (
	logger = log.New(os.Stderr, "[mkbootable] ", log.LstdFlags|log.Lmicroseconds)
)

// SetLogOutput redirects diagnostic logging, e.g. to tee into a log file.
func SetLogOutput(w io.Writer) {
	logger.SetOutput(w)
}

func Logf(format string, args ...interface{}) {
	logger.Printf(format, args...)
}

func Fatalf(format string, args ...interface{}) {
	logger.Printf(format, args...)
	os.Exit(ExitFatal)
}

package logflags

import (
	"errors"
	"fmt"
	"io"
	"io/ioutil"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
)

var frame = false
var rewrite = false
var loclist = false

var logOut io.WriteCloser

var textFormatterInstance = &logrus.TextFormatter{DisableTimestamp: true}

func makeLogger(level logrus.Level, fields Fields) Logger {
	if lf := loggerFactory; lf != nil {
		return lf(level, fields, logOut)
	}
	logger := logrus.New().WithFields(logrus.Fields(fields))
	logger.Logger.Formatter = textFormatterInstance
	if logOut != nil {
		logger.Logger.Out = logOut
	}
	logger.Logger.Level = level
	return &logrusLogger{logger}
}

func makeFlaggableLogger(flag bool, fields Fields) Logger {
	if !flag {
		return makeLogger(logrus.ErrorLevel, fields)
	}
	return makeLogger(logrus.DebugLevel, fields)
}

// Frame returns true if the decoding and interpretation of call frame
// instructions should be logged.
func Frame() bool {
	return frame
}

// FrameLogger returns a logger for the frame package.
func FrameLogger() Logger {
	return makeFlaggableLogger(frame, Fields{"layer": "frame"})
}

// Rewrite returns true if the CFA rewriter should log graph construction
// and path searches.
func Rewrite() bool {
	return rewrite
}

// RewriteLogger returns a logger for the cfa package.
func RewriteLogger() Logger {
	return makeFlaggableLogger(rewrite, Fields{"layer": "rewrite"})
}

// LocList returns true if location list decoding should be logged.
func LocList() bool {
	return loclist
}

func LocListLogger() Logger {
	return makeFlaggableLogger(loclist, Fields{"layer": "loclist"})
}

var errLogstrWithoutLog = errors.New("--log-output specified without --log")

// Setup sets the logging flags based on the contents of logstr.
// If logDest is not empty logs will be redirected to the file descriptor or
// file path specified by logDest.
func Setup(logFlag bool, logstr, logDest string) error {
	if logDest != "" {
		n, err := strconv.Atoi(logDest)
		if err == nil {
			logOut = os.NewFile(uintptr(n), "dwarfcfa-logs")
		} else {
			fh, err := os.Create(logDest)
			if err != nil {
				return fmt.Errorf("could not create log file: %v", err)
			}
			logOut = fh
		}
	}
	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
	if !logFlag {
		log.SetOutput(ioutil.Discard)
		if logstr != "" {
			return errLogstrWithoutLog
		}
		return nil
	}
	if logOut != nil {
		log.SetOutput(logOut)
	}
	if logstr == "" {
		logstr = "frame,rewrite"
	}
	v := strings.Split(logstr, ",")
	for _, logcmd := range v {
		switch strings.TrimSpace(logcmd) {
		case "frame":
			frame = true
		case "rewrite":
			rewrite = true
		case "loclist":
			loclist = true
		default:
			return fmt.Errorf("unknown log layer %q", logcmd)
		}
	}
	return nil
}

// Close closes the logger output.
func Close() {
	if logOut != nil {
		logOut.Close()
	}
}

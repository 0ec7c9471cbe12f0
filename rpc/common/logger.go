package common

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/lni/dragonboat/v4/logger"
)

// --------------------------------------------------------------------------
// Custom Logger (implements dragonboats logger.ILogger)
// --------------------------------------------------------------------------

// DemoteFilter decides whether a warning or error of a package is expected noise.
// Matching lines are written at DEBUG level instead.
type DemoteFilter func(pkg, msg string) bool

var demoteFilter atomic.Pointer[DemoteFilter]

// SetDemoteFilter installs the process wide demote filter, nil removes it
func SetDemoteFilter(f DemoteFilter) {
	if f == nil {
		demoteFilter.Store(nil)
		return
	}
	demoteFilter.Store(&f)
}

func demoted(pkg, msg string) bool {
	f := demoteFilter.Load()
	return f != nil && (*f)(pkg, msg)
}

// gmLogger implements the ILogger interface with custom formatting
type gmLogger struct {
	name   string
	level  atomic.Int32
	logger *log.Logger
}

func (l *gmLogger) enabled(level logger.LogLevel) bool {
	return logger.LogLevel(l.level.Load()) >= level
}

func (l *gmLogger) SetLevel(level logger.LogLevel) {
	l.level.Store(int32(level))
}

func (l *gmLogger) Debugf(format string, args ...interface{}) {
	if l.enabled(logger.DEBUG) {
		l.log("DEBUG", fmt.Sprintf(format, args...))
	}
}

func (l *gmLogger) Infof(format string, args ...interface{}) {
	if l.enabled(logger.INFO) {
		l.log("INFO", fmt.Sprintf(format, args...))
	}
}

func (l *gmLogger) Warningf(format string, args ...interface{}) {
	l.logDemotable(logger.WARNING, "WARN", fmt.Sprintf(format, args...))
}

func (l *gmLogger) Errorf(format string, args ...interface{}) {
	l.logDemotable(logger.ERROR, "ERROR", fmt.Sprintf(format, args...))
}

func (l *gmLogger) Panicf(format string, args ...interface{}) {
	if l.enabled(logger.CRITICAL) {
		panic(fmt.Sprintf(format, args...))
	}
}

// logDemotable writes a warning or error, or a debug line if the demote filter matches
func (l *gmLogger) logDemotable(level logger.LogLevel, levelStr, message string) {
	if demoted(l.name, message) {
		if l.enabled(logger.DEBUG) {
			l.log("DEBUG", message)
		}
		return
	}
	if l.enabled(level) {
		l.log(levelStr, message)
	}
}

// log writes a formatted log line. this internal helper is used by the public methods
func (l *gmLogger) log(levelStr string, message string) {
	l.logger.Printf("%-5s | %-15s | %s", levelStr, l.name, message)
}

// --------------------------------------------------------------------------
// Logger Factory
// --------------------------------------------------------------------------

var output io.Writer = os.Stdout

// CreateLogger implements the logger.Factory interface
func CreateLogger(pkgName string) logger.ILogger {
	return newLogger(pkgName, output)
}

func newLogger(pkgName string, w io.Writer) *gmLogger {
	l := &gmLogger{
		name:   pkgName,
		logger: log.New(w, "", log.Ldate|log.Ltime),
	}
	l.SetLevel(logger.INFO)
	return l
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

// ParseLogLevel converts a string level to logger.LogLevel
func ParseLogLevel(level string) (logger.LogLevel, error) {
	switch strings.ToLower(level) {
	case "debug":
		return logger.DEBUG, nil
	case "info":
		return logger.INFO, nil
	case "warning", "warn":
		return logger.WARNING, nil
	case "error":
		return logger.ERROR, nil
	default:
		return logger.INFO, fmt.Errorf("invalid log level: %s. must be one of debug, info, warn, error", level)
	}
}

// --------------------------------------------------------------------------
// Logger initialization
// --------------------------------------------------------------------------

// Packages lists the logger names used by the module
var Packages = []string{
	"store", "lstore", "journal", "crypt", "wqueue", "vault",
	"relay", "hub", "api", "telemetry",
	"rpc", "rpc/client", "transport/rpc", "cmd",
}

var factoryOnce sync.Once

// InitLoggers installs the custom format and sets the level of all package loggers
func InitLoggers(level string) error {
	lvl, err := ParseLogLevel(level)
	if err != nil {
		return err
	}

	// dragonboat accepts the factory only once per process
	factoryOnce.Do(func() {
		logger.SetLoggerFactory(CreateLogger)
	})

	for _, pkg := range Packages {
		logger.GetLogger(pkg).SetLevel(lvl)
	}
	return nil
}

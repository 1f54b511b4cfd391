package log

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
)

var nodeLog logger

type logger struct {
	debug *log.Logger
	info  *log.Logger
	warn  *log.Logger
	err   *log.Logger
	dir   string
}

// InitLogger wires all levels to stdout/stderr. Call once at startup, before
// the node home is known.
func InitLogger() {
	nodeLog = logger{
		debug: log.New(os.Stdout, "[DEBUG] ", 0),
		info:  log.New(os.Stdout, "[INFO ] ", 0),
		warn:  log.New(os.Stdout, "[WARN ] ", 0),
		err:   log.New(os.Stderr, "[ERROR] ", 0),
		dir:   "",
	}
}

// ResetLogger redirects every level to a per-process log file under
// <home>/logs once the node home directory is resolved.
func ResetLogger(home string) {
	if home == "" {
		osHome, err := os.UserHomeDir()
		if err != nil {
			Fatalf("Failed to get user home directory: %v", err)
		}
		nodeLog.dir = filepath.Join(osHome, ".oracled", "logs")
	} else {
		nodeLog.dir = filepath.Join(home, "logs")
	}

	if err := os.MkdirAll(nodeLog.dir, 0755); err != nil {
		Fatalf("Failed to create log directory %s: %v", nodeLog.dir, err)
	}

	format := log.Ldate | log.Ltime | log.Lmicroseconds | log.Lshortfile
	name := fmt.Sprintf("%s.%d.log", filepath.Base(os.Args[0]), os.Getpid())
	path := filepath.Join(nodeLog.dir, name)
	file, err := os.Create(path)
	if err != nil {
		Fatalf("Failed to create log file: %v", err)
	}

	Infof("From now on, all logs will be written to %s", path)

	nodeLog.debug = log.New(file, "[DEBUG] ", format)
	nodeLog.info = log.New(file, "[INFO ] ", format)
	nodeLog.warn = log.New(file, "[WARN ] ", format)
	nodeLog.err = log.New(file, "[ERROR] ", format)
}

func Debug(v ...any) {
	_ = nodeLog.debug.Output(2, fmt.Sprint(v...))
}

func Debugf(format string, v ...any) {
	_ = nodeLog.debug.Output(2, fmt.Sprintf(format, v...))
}

func Info(v ...any) {
	_ = nodeLog.info.Output(2, fmt.Sprint(v...))
}

func Infof(format string, v ...any) {
	_ = nodeLog.info.Output(2, fmt.Sprintf(format, v...))
}

func Warn(v ...any) {
	_ = nodeLog.warn.Output(2, fmt.Sprint(v...))
}

func Warnf(format string, v ...any) {
	_ = nodeLog.warn.Output(2, fmt.Sprintf(format, v...))
}

func Error(v ...any) {
	_ = nodeLog.err.Output(2, fmt.Sprint(v...))
}

func Errorf(format string, v ...any) {
	_ = nodeLog.err.Output(2, fmt.Sprintf(format, v...))
}

func Fatal(v ...any) {
	_ = nodeLog.err.Output(2, fmt.Sprint(v...))
	log.Fatal(v...)
}

func Fatalf(format string, v ...any) {
	_ = nodeLog.err.Output(2, fmt.Sprintf(format, v...))
	log.Fatalf(format, v...)
}

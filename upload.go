package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// UploadConfig is a snapshot of the form at the moment Upload is pressed.
type UploadConfig struct {
	Programmer string
	MCU        string
	Port       string
	Baud       string
	HexFile    string
}

// Stream identifies where a log line came from.
type Stream int

const (
	StreamInfo Stream = iota
	StreamStdout
	StreamStderr
	StreamExit
)

func (s Stream) String() string {
	switch s {
	case StreamStdout:
		return "stdout"
	case StreamStderr:
		return "stderr"
	case StreamExit:
		return "exit"
	default:
		return "info"
	}
}

// LogLine is a single line shown in the output panel. A Partial line is
// text still waiting for its newline; the next line from the same stream
// replaces it.
type LogLine struct {
	Timestamp time.Time
	Stream    Stream
	Text      string
	Partial   bool
}

func newLogLine(stream Stream, text string) LogLine {
	return LogLine{Timestamp: time.Now(), Stream: stream, Text: text}
}

// BuildArgs assembles the avrdude command line. The port and baud flags are
// left out when their fields are empty.
func BuildArgs(cfg UploadConfig) []string {
	args := []string{
		"-c" + strings.TrimSpace(cfg.Programmer),
		"-p" + strings.TrimSpace(cfg.MCU),
	}
	if port := strings.TrimSpace(cfg.Port); port != "" {
		args = append(args, "-P"+port)
	}
	if baud := strings.TrimSpace(cfg.Baud); baud != "" {
		args = append(args, "-b"+baud)
	}
	args = append(args, "-Uflash:w:"+cfg.HexFile+":i")
	return args
}

// CommandLine renders path and args for display, quoting anything with spaces.
func CommandLine(path string, args []string) string {
	parts := make([]string, 0, len(args)+1)
	for _, a := range append([]string{path}, args...) {
		if strings.ContainsAny(a, " \t") {
			a = strconv.Quote(a)
		}
		parts = append(parts, a)
	}
	return strings.Join(parts, " ")
}

// ExitSummary is the text appended once a run has finished.
func ExitSummary(code int) string {
	return fmt.Sprintf("Process exited with code %d", code)
}

// Runner launches avrdude and forwards its output.
type Runner struct {
	path   string
	logger *log.Logger

	// appended to the inherited environment of the child
	env []string
}

func NewRunner(path string, logger *log.Logger) *Runner {
	return &Runner{path: path, logger: logger}
}

// Path returns the avrdude binary the runner invokes.
func (r *Runner) Path() string {
	return r.path
}

// Run starts avrdude for cfg and blocks until it exits, returning the exit
// code (-1 if it could not be started). sink receives the command echo, the
// output as it arrives, a blank line and exactly one exit line, in that order.
// sink may be called from multiple goroutines.
func (r *Runner) Run(cfg UploadConfig, sink func(LogLine)) int {
	args := BuildArgs(cfg)
	sink(newLogLine(StreamInfo, "Running: "+CommandLine(r.path, args)))
	r.logger.WithFields(log.Fields{"path": r.path, "args": args}).Info("upload started")

	cmd := exec.Command(r.path, args...)
	if len(r.env) > 0 {
		cmd.Env = append(os.Environ(), r.env...)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return r.fail(sink, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return r.fail(sink, err)
	}
	if err := cmd.Start(); err != nil {
		return r.fail(sink, err)
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		streamLines(stdout, StreamStdout, sink)
	}()
	go func() {
		defer wg.Done()
		streamLines(stderr, StreamStderr, sink)
	}()
	// Pipes must be drained before Wait closes them.
	wg.Wait()

	return r.waited(sink, cmd.Wait())
}

// waited finishes a run from the result of cmd.Wait. A non-zero exit is
// reported through its code only; any other error is also written to the log.
func (r *Runner) waited(sink func(LogLine), err error) int {
	if err == nil {
		return r.finish(sink, 0)
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return r.finish(sink, exitErr.ExitCode())
	}
	r.logger.WithError(err).Warn("waiting for upload failed")
	sink(newLogLine(StreamStderr, err.Error()))
	return r.finish(sink, -1)
}

func (r *Runner) fail(sink func(LogLine), err error) int {
	r.logger.WithError(err).WithField("path", r.path).Warn("upload failed to start")
	sink(newLogLine(StreamStderr, err.Error()))
	return r.finish(sink, -1)
}

func (r *Runner) finish(sink func(LogLine), code int) int {
	r.logger.WithField("code", code).Info("upload finished")
	sink(newLogLine(StreamInfo, ""))
	sink(newLogLine(StreamExit, ExitSummary(code)))
	return code
}

// streamLines reads rd in chunks as data arrives and emits each complete
// line. Text without a newline yet is emitted as a Partial line after every
// read, so progress bars show up while they are drawn.
func streamLines(rd io.Reader, stream Stream, sink func(LogLine)) {
	buf := make([]byte, 1024)
	var partial []byte

	for {
		n, err := rd.Read(buf)
		if n > 0 {
			partial = append(partial, buf[:n]...)
			for {
				idx := bytes.IndexByte(partial, '\n')
				if idx < 0 {
					break
				}
				sink(newLogLine(stream, string(bytes.TrimRight(partial[:idx], "\r"))))
				partial = partial[idx+1:]
			}
			if len(partial) > 0 {
				line := newLogLine(stream, string(bytes.TrimRight(partial, "\r")))
				line.Partial = true
				sink(line)
			}
		}
		if err != nil {
			break
		}
	}

	if len(partial) > 0 {
		sink(newLogLine(stream, string(bytes.TrimRight(partial, "\r"))))
	}
}

/*************************************************************************
 * Copyright 2024 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package corelog is a small leveled, structured logger. Within this
// module only cmd/sessiontap writes to it; the library packages
// (tcpreasm, udpdispatch, classify, flowsession and the protocol
// parsers) take no logger and emit no diagnostics. It is modeled on the KV-tagged
// logger the rest of the gravwell ecosystem uses (ingest/log's
// KVLogger over github.com/crewjam/rfc5424 structured-data params) but
// trimmed down to what a library needs: no file rotation, no network
// relay, just a leveled writer. The host's own logging setup remains
// entirely external to this module; nothing here is on the hot path.
package corelog

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/crewjam/rfc5424"
)

type Level int

const (
	OFF Level = iota
	DEBUG
	INFO
	WARN
	ERROR
)

func (l Level) String() string {
	switch l {
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	default:
		return "OFF"
	}
}

// KV builds a structured-data param the way ingest/log.KV does.
func KV(name string, value interface{}) rfc5424.SDParam {
	if s, ok := value.(string); ok {
		return rfc5424.SDParam{Name: name, Value: s}
	}
	return rfc5424.SDParam{Name: name, Value: fmt.Sprintf("%v", value)}
}

// KVErr is shorthand for KV("error", err).
func KVErr(err error) rfc5424.SDParam {
	return KV("error", err)
}

// Logger writes leveled, structured lines to an io.Writer. The zero
// value discards everything; use New to attach a writer.
type Logger struct {
	mtx sync.Mutex
	wtr io.Writer
	lvl Level
}

// New wraps wtr at the given minimum level. A nil wtr is valid and
// silently discards all output — callers that don't want diagnostics
// pass nil rather than nil-checking at every call site.
func New(wtr io.Writer, lvl Level) *Logger {
	return &Logger{wtr: wtr, lvl: lvl}
}

func (l *Logger) log(lvl Level, msg string, sds []rfc5424.SDParam) {
	if l == nil || l.wtr == nil || l.lvl == OFF || lvl < l.lvl {
		return
	}
	l.mtx.Lock()
	defer l.mtx.Unlock()
	fmt.Fprintf(l.wtr, "%s %-5s %s", time.Now().UTC().Format(time.RFC3339Nano), lvl, msg)
	for _, sd := range sds {
		fmt.Fprintf(l.wtr, " %s=%q", sd.Name, sd.Value)
	}
	fmt.Fprintln(l.wtr)
}

func (l *Logger) Debug(msg string, sds ...rfc5424.SDParam) { l.log(DEBUG, msg, sds) }
func (l *Logger) Info(msg string, sds ...rfc5424.SDParam)  { l.log(INFO, msg, sds) }
func (l *Logger) Warn(msg string, sds ...rfc5424.SDParam)  { l.log(WARN, msg, sds) }
func (l *Logger) Error(msg string, sds ...rfc5424.SDParam) { l.log(ERROR, msg, sds) }

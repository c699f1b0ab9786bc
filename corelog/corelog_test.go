/*************************************************************************
 * Copyright 2024 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package corelog

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestLoggerRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, WARN)
	l.Info("should be suppressed")
	if buf.Len() != 0 {
		t.Fatalf("expected nothing logged below threshold, got %q", buf.String())
	}
	l.Warn("should appear", KV("k", "v"), KVErr(errors.New("boom")))
	out := buf.String()
	if !strings.Contains(out, "should appear") || !strings.Contains(out, `k="v"`) || !strings.Contains(out, `error="boom"`) {
		t.Fatalf("unexpected log line: %q", out)
	}
}

func TestNilWriterDiscardsSafely(t *testing.T) {
	l := New(nil, DEBUG)
	l.Error("must not panic") // no assertion needed beyond "doesn't panic"
}

func TestNilLoggerIsSafeToCall(t *testing.T) {
	var l *Logger
	l.Info("calling methods on a nil *Logger must not panic")
}

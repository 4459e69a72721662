// File: cmd/watchdog/main_test.go
package main

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/xkilldash9x/watchdog-cli/internal/watchdog"
)

func TestRun_ExitCodes(t *testing.T) {
	orig := execute
	t.Cleanup(func() { execute = orig })

	tests := []struct {
		name string
		err  error
		want int
	}{
		{"success", nil, 0},
		{"usage", watchdog.UsageError("bad"), 2},
		{"failure", &watchdog.FlowError{Kind: watchdog.KindURLMismatch}, 1},
		{"interrupted", context.Canceled, 130},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			execute = func(context.Context) error { return tt.err }
			assert.Equal(t, tt.want, run(context.Background()))
		})
	}
}

func TestHandlePanic(t *testing.T) {
	origWrite, origExit := osWriteFile, osExit
	t.Cleanup(func() { osWriteFile, osExit = origWrite, origExit })

	t.Run("WritesPanicLog", func(t *testing.T) {
		var written string
		var code int
		osWriteFile = func(name string, data []byte, _ os.FileMode) error {
			assert.Equal(t, panicLogFile, name)
			written = string(data)
			return nil
		}
		osExit = func(c int) { code = c }

		func() {
			defer handlePanic()
			panic("driver exploded")
		}()

		assert.Contains(t, written, "panic: driver exploded")
		assert.Equal(t, 1, code)
	})

	t.Run("WriteFailureStillExits", func(t *testing.T) {
		var code int
		osWriteFile = func(string, []byte, os.FileMode) error { return errors.New("read-only fs") }
		osExit = func(c int) { code = c }

		func() {
			defer handlePanic()
			panic("again")
		}()
		assert.Equal(t, 1, code)
	})
}

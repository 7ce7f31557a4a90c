package err_utils

import (
	"github.com/pkg/errors"
	"github.com/siddontang/go-log/log"
)

// Panic on err and return just v
func Unwrap[T any](v T, err error) T {
	Must(err)

	return v
}

// Panic on err
func Must(err error) {
	if err != nil {
		log.Panicln(err)
	}
}

// Panic on err with context about what was being attempted
func Mustf(err error, format string, args ...interface{}) {
	if err != nil {
		Must(errors.Wrapf(err, format, args...))
	}
}

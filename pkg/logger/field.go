package logger

import (
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Field is one structured log attribute. GetKeyValue feeds the
// collector, which aggregates on plain key/value pairs.
type Field interface {
	AddTo(event *zerolog.Event)
	GetKeyValue() (string, interface{})
}

type stringField struct {
	key   string
	value string
}

func (f stringField) AddTo(event *zerolog.Event)         { event.Str(f.key, f.value) }
func (f stringField) GetKeyValue() (string, interface{}) { return f.key, f.value }

type intField struct {
	key   string
	value int
}

func (f intField) AddTo(event *zerolog.Event)         { event.Int(f.key, f.value) }
func (f intField) GetKeyValue() (string, interface{}) { return f.key, f.value }

type errorField struct {
	value error
}

func (f errorField) AddTo(event *zerolog.Event)         { event.Err(f.value) }
func (f errorField) GetKeyValue() (string, interface{}) { return "error", f.value.Error() }

func String(key, value string) Field {
	return stringField{key: key, value: value}
}

func Int(key string, value int) Field {
	return intField{key: key, value: value}
}

func Error(err error) Field {
	return errorField{value: err}
}

func Strings(key string, value []string) Field {
	return stringField{key: key, value: strings.Join(value, ", ")}
}

// Duration logs as integer milliseconds.
func Duration(key string, value time.Duration) Field {
	return intField{key: key, value: int(value / time.Millisecond)}
}

package logger

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/pkgerrors"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Zerolog field implementations
func (f StringField) apply(event *zerolog.Event) *zerolog.Event {
	return event.Str(f.Key, f.Value)
}

func (f IntField) apply(event *zerolog.Event) *zerolog.Event {
	return event.Int(f.Key, f.Value)
}

func (f Int64Field) apply(event *zerolog.Event) *zerolog.Event {
	return event.Int64(f.Key, f.Value)
}

func (f Float64Field) apply(event *zerolog.Event) *zerolog.Event {
	return event.Float64(f.Key, f.Value)
}

func (f BoolField) apply(event *zerolog.Event) *zerolog.Event {
	return event.Bool(f.Key, f.Value)
}

func (f DurationField) apply(event *zerolog.Event) *zerolog.Event {
	return event.Dur(f.Key, f.Value)
}

func (f TimeField) apply(event *zerolog.Event) *zerolog.Event {
	return event.Time(f.Key, f.Value)
}

func (f ErrorField) apply(event *zerolog.Event) *zerolog.Event {
	return event.Err(f.Value)
}

func (f AnyField) apply(event *zerolog.Event) *zerolog.Event {
	return event.Interface(f.Key, f.Value)
}

// ZerologLogger implements Logger using zerolog
type ZerologLogger struct {
	root       zerolog.Logger
	logger     zerolog.Logger
	config     *Config
	subsystem  string
	fields     map[string]interface{}
	fileWriter *lumberjack.Logger
}

func toZerologLevel(level LogLevel) zerolog.Level {
	switch level {
	case TraceLevel:
		return zerolog.TraceLevel
	case DebugLevel:
		return zerolog.DebugLevel
	case InfoLevel:
		return zerolog.InfoLevel
	case WarnLevel:
		return zerolog.WarnLevel
	case ErrorLevel:
		return zerolog.ErrorLevel
	case FatalLevel:
		return zerolog.FatalLevel
	case PanicLevel:
		return zerolog.PanicLevel
	default:
		return zerolog.InfoLevel
	}
}

// NewZerologLogger creates a new ZerologLogger. The level is applied to the
// returned logger only; the zerolog global level is left untouched so that
// several loggers with different levels can coexist in one process.
func NewZerologLogger(config *Config) Logger {
	if config == nil {
		config = DefaultConfig()
	}

	zerolog.ErrorStackMarshaler = pkgerrors.MarshalStack

	var writers []io.Writer
	var fileWriter *lumberjack.Logger

	if config.FileConfig != nil {
		fw, err := openFile(config.FileConfig)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Log file disabled: %v\n", err)
		} else {
			fileWriter = fw
			writers = append(writers, fileWriter)
		}
	}

	for _, output := range config.Outputs {
		if config.Format == DefaultFormat || config.Environment == "development" {
			writers = append(writers, zerolog.ConsoleWriter{
				Out:        output,
				TimeFormat: "15:04:05",
				PartsOrder: []string{
					zerolog.TimestampFieldName,
					zerolog.LevelFieldName,
					zerolog.CallerFieldName,
					"module",
					zerolog.MessageFieldName,
				},
			})
		} else {
			writers = append(writers, output)
		}
	}

	var writer io.Writer
	switch len(writers) {
	case 0:
		writer = io.Discard
	case 1:
		writer = writers[0]
	default:
		writer = zerolog.MultiLevelWriter(writers...)
	}

	root := zerolog.New(writer).Level(toZerologLevel(config.Level))
	if config.EnableSampling && config.Environment == "production" {
		root = root.Sample(&zerolog.BurstSampler{
			Burst:       10,
			Period:      1 * time.Second,
			NextSampler: &zerolog.BasicSampler{N: 100},
		})
	}
	root = root.With().Timestamp().Logger()
	if config.EnableCaller {
		root = root.With().CallerWithSkipFrameCount(3 + config.CallerSkip).Logger()
	}

	zl := &ZerologLogger{
		root:       root,
		config:     config,
		subsystem:  config.Subsystem,
		fileWriter: fileWriter,
	}
	zl.logger = zl.derive()
	return zl
}

// derive rebuilds the effective logger from the root so module names and
// context fields are never emitted twice.
func (zl *ZerologLogger) derive() zerolog.Logger {
	ctx := zl.root.With()
	if zl.subsystem != "" {
		ctx = ctx.Str("module", zl.subsystem)
	}
	if len(zl.fields) > 0 {
		ctx = ctx.Fields(zl.fields)
	}
	return ctx.Logger()
}

func (zl *ZerologLogger) clone() *ZerologLogger {
	fields := make(map[string]interface{}, len(zl.fields))
	for k, v := range zl.fields {
		fields[k] = v
	}
	return &ZerologLogger{
		root:       zl.root,
		config:     zl.config,
		subsystem:  zl.subsystem,
		fields:     fields,
		fileWriter: zl.fileWriter,
	}
}

func (zl *ZerologLogger) logWithFields(level zerolog.Level, msg string, fields []TypedField) {
	if zl.logger.GetLevel() > level {
		return
	}

	var event *zerolog.Event
	switch level {
	case zerolog.TraceLevel:
		event = zl.logger.Trace()
	case zerolog.DebugLevel:
		event = zl.logger.Debug()
	case zerolog.InfoLevel:
		event = zl.logger.Info()
	case zerolog.WarnLevel:
		event = zl.logger.Warn()
	case zerolog.ErrorLevel:
		event = zl.logger.Error()
	case zerolog.FatalLevel:
		event = zl.logger.Fatal()
	case zerolog.PanicLevel:
		event = zl.logger.Panic()
	default:
		return
	}

	// Apply all fields at once if there are any
	if len(fields) > 0 {
		event.Fields(fieldsToMap(fields))
	}

	event.Msg(msg)
}

// Trace logs a message at trace level
func (zl *ZerologLogger) Trace(msg string, fields ...TypedField) {
	zl.logWithFields(zerolog.TraceLevel, msg, fields)
}

// Debug logs a message at debug level
func (zl *ZerologLogger) Debug(msg string, fields ...TypedField) {
	zl.logWithFields(zerolog.DebugLevel, msg, fields)
}

// Info logs a message at info level
func (zl *ZerologLogger) Info(msg string, fields ...TypedField) {
	zl.logWithFields(zerolog.InfoLevel, msg, fields)
}

// Warn logs a message at warn level
func (zl *ZerologLogger) Warn(msg string, fields ...TypedField) {
	zl.logWithFields(zerolog.WarnLevel, msg, fields)
}

// Error logs a message at error level
func (zl *ZerologLogger) Error(msg string, fields ...TypedField) {
	zl.logWithFields(zerolog.ErrorLevel, msg, fields)
}

// Fatal logs a message at fatal level and exits
func (zl *ZerologLogger) Fatal(msg string, fields ...TypedField) {
	zl.logWithFields(zerolog.FatalLevel, msg, fields)
}

// Panic logs a message at panic level and panics
func (zl *ZerologLogger) Panic(msg string, fields ...TypedField) {
	zl.logWithFields(zerolog.PanicLevel, msg, fields)
}

// Formatted logging methods
func (zl *ZerologLogger) Tracef(format string, args ...interface{}) {
	zl.logger.Trace().Msgf(format, args...)
}

func (zl *ZerologLogger) Debugf(format string, args ...interface{}) {
	zl.logger.Debug().Msgf(format, args...)
}

func (zl *ZerologLogger) Infof(format string, args ...interface{}) {
	zl.logger.Info().Msgf(format, args...)
}

func (zl *ZerologLogger) Warnf(format string, args ...interface{}) {
	zl.logger.Warn().Msgf(format, args...)
}

func (zl *ZerologLogger) Errorf(format string, args ...interface{}) {
	zl.logger.Error().Msgf(format, args...)
}

func (zl *ZerologLogger) Fatalf(format string, args ...interface{}) {
	zl.logger.Fatal().Msgf(format, args...)
}

func (zl *ZerologLogger) Panicf(format string, args ...interface{}) {
	zl.logger.Panic().Msgf(format, args...)
}

// WithSubsystem creates a new logger with a subsystem
func (zl *ZerologLogger) WithSubsystem(name string) Logger {
	child := zl.clone()
	if zl.subsystem != "" {
		child.subsystem = zl.subsystem + "." + name
	} else {
		child.subsystem = name
	}
	child.logger = child.derive()
	return child
}

// WithSystem creates a new logger with a system
func (zl *ZerologLogger) WithSystem(name string) Logger {
	child := zl.clone()
	child.subsystem = name
	child.logger = child.derive()
	return child
}

// fieldsToMap converts typed fields to a map[string]interface{}
func fieldsToMap(fields []TypedField) map[string]interface{} {
	result := make(map[string]interface{}, len(fields))
	for _, field := range fields {
		switch f := field.(type) {
		case StringField:
			result[f.Key] = f.Value
		case IntField:
			result[f.Key] = f.Value
		case Int64Field:
			result[f.Key] = f.Value
		case Float64Field:
			result[f.Key] = f.Value
		case BoolField:
			result[f.Key] = f.Value
		case DurationField:
			result[f.Key] = f.Value
		case TimeField:
			result[f.Key] = f.Value
		case ErrorField:
			result[f.Key] = f.Value
		case AnyField:
			result[f.Key] = f.Value
		}
	}
	return result
}

// WithFields creates a new logger with additional fields
func (zl *ZerologLogger) WithFields(fields ...TypedField) Logger {
	if len(fields) == 0 {
		return zl
	}
	child := zl.clone()
	for k, v := range fieldsToMap(fields) {
		child.fields[k] = v
	}
	child.logger = child.derive()
	return child
}

// IsLevelEnabled checks if a log level is enabled
func (zl *ZerologLogger) IsLevelEnabled(level LogLevel) bool {
	switch level {
	case TraceLevel:
		return zl.logger.GetLevel() <= zerolog.TraceLevel
	case DebugLevel:
		return zl.logger.GetLevel() <= zerolog.DebugLevel
	case InfoLevel:
		return zl.logger.GetLevel() <= zerolog.InfoLevel
	case WarnLevel:
		return zl.logger.GetLevel() <= zerolog.WarnLevel
	case ErrorLevel:
		return zl.logger.GetLevel() <= zerolog.ErrorLevel
	case FatalLevel:
		return zl.logger.GetLevel() <= zerolog.FatalLevel
	case PanicLevel:
		return zl.logger.GetLevel() <= zerolog.PanicLevel
	default:
		return false
	}
}

// Flush is a no-op: zerolog writes synchronously and lumberjack has no
// buffer to flush.
func (zl *ZerologLogger) Flush() {}

// Close closes the logger and cleans up resources
func (zl *ZerologLogger) Close() error {
	if zl.fileWriter != nil {
		return zl.fileWriter.Close()
	}
	return nil
}

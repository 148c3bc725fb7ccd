// Copyright 2025 gorse Project Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package log

import (
	"net/url"
	"os"
	"runtime"
	"strings"

	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

const timeLayout = "2006-01-02 15:04:05.999999"

var logger *zap.Logger

func init() {
	var err error
	logger, err = zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	// https://github.com/uber-go/zap/issues/621
	if runtime.GOOS == "windows" {
		if err := zap.RegisterSink("windows", func(u *url.URL) (zap.Sink, error) {
			return os.OpenFile(u.Path[1:], os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0644)
		}); err != nil {
			logger.Fatal("failed to register Windows file sink", zap.Error(err))
		}
	}
}

func Logger() *zap.Logger {
	return logger
}

// CloseLogger keeps only fatal messages. Tests use it to silence training loops.
func CloseLogger() {
	logger = zap.New(zapcore.NewCore(
		zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()),
		zapcore.AddSync(os.Stderr),
		zap.FatalLevel))
}

// AddFlags registers log flags. The log file is rotated by lumberjack.
func AddFlags(flagSet *pflag.FlagSet) {
	flagSet.String("log-path", "", "path of log file")
	flagSet.String("log-format", "json", "format of log messages (json or console)")
	flagSet.Int("log-max-size", 100, "maximum size in megabytes of the log file")
	flagSet.Int("log-max-age", 0, "maximum number of days to retain old log files")
	flagSet.Int("log-max-backups", 0, "maximum number of old log files to retain")
	flagSet.Bool("log-compress", false, "compress rotated log files")
}

// SetLogger replaces the default logger. Debug messages (per-epoch losses, sampler
// statistics) are only written in debug mode.
func SetLogger(flagSet *pflag.FlagSet, debug bool) {
	level := zap.InfoLevel
	if debug {
		level = zap.DebugLevel
	}
	format, _ := flagSet.GetString("log-format")
	encoder := newEncoder(format, debug)

	writers := []zapcore.WriteSyncer{zapcore.AddSync(os.Stdout)}
	if flagSet.Changed("log-path") {
		path, _ := flagSet.GetString("log-path")
		maxSize, _ := flagSet.GetInt("log-max-size")
		maxAge, _ := flagSet.GetInt("log-max-age")
		maxBackups, _ := flagSet.GetInt("log-max-backups")
		compress, _ := flagSet.GetBool("log-compress")
		writers = append(writers, zapcore.AddSync(&lumberjack.Logger{
			Filename:   path,
			MaxSize:    maxSize,
			MaxBackups: maxBackups,
			MaxAge:     maxAge,
			Compress:   compress,
		}))
	}
	logger = zap.New(zapcore.NewCore(encoder, zap.CombineWriteSyncers(writers...), level))
}

func newEncoder(format string, debug bool) zapcore.Encoder {
	var cfg zapcore.EncoderConfig
	if debug {
		cfg = zap.NewDevelopmentEncoderConfig()
	} else {
		cfg = zap.NewProductionEncoderConfig()
	}
	cfg.EncodeTime = zapcore.TimeEncoderOfLayout(timeLayout)
	if format == "console" || (format == "" && debug) {
		return zapcore.NewConsoleEncoder(cfg)
	}
	return zapcore.NewJSONEncoder(cfg)
}

// secretKeys are masked in Azure style connection strings.
var secretKeys = []string{"accountkey", "sharedaccesssignature"}

// Redact masks credentials in an endpoint URL or in a connection string of the form
// "Key1=Value1;Key2=Value2" so that blob settings can be logged.
func Redact(raw string) string {
	if strings.Contains(raw, "=") && strings.Contains(raw, ";") {
		pairs := strings.Split(raw, ";")
		for i, pair := range pairs {
			key, value, found := strings.Cut(pair, "=")
			if !found {
				continue
			}
			for _, secret := range secretKeys {
				if strings.EqualFold(strings.TrimSpace(key), secret) {
					pairs[i] = key + "=" + strings.Repeat("x", len(value))
				}
			}
		}
		return strings.Join(pairs, ";")
	}
	parsed, err := url.Parse(raw)
	if err != nil || parsed.User == nil {
		return raw
	}
	username := parsed.User.Username()
	password, _ := parsed.User.Password()
	parsed.User = url.UserPassword(strings.Repeat("x", len(username)), strings.Repeat("x", len(password)))
	return parsed.String()
}

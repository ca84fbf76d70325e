//go:build windows

package logx

type syslogWriter = struct{}

func (l *Logger) initSyslog() {}

func (l *Logger) logToSyslog(level Level, message string) {}

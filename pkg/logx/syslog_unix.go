//go:build !windows

package logx

import "log/syslog"

type syslogWriter = *syslog.Writer

func (l *Logger) initSyslog() {
	if w, err := syslog.New(syslog.LOG_DAEMON|syslog.LOG_INFO, "locationengined"); err == nil {
		l.syslogger = w
	}
}

func (l *Logger) logToSyslog(level Level, message string) {
	if l.syslogger == nil {
		return
	}
	switch level {
	case DebugLevel:
		l.syslogger.Debug(message)
	case WarnLevel:
		l.syslogger.Warning(message)
	case ErrorLevel:
		l.syslogger.Err(message)
	default:
		l.syslogger.Info(message)
	}
}

package engine

import (
	"strings"

	"github.com/xiaoxuxiansheng/txbridge/log"
)

// badgerLogger 把 badger 的日志接入项目 logger，badger 的 info 日志过于频繁，降级为 debug
type badgerLogger struct {
	logger log.Logger
}

func newBadgerLogger(logger log.Logger) *badgerLogger {
	return &badgerLogger{logger: logger}
}

func (b *badgerLogger) Errorf(format string, v ...interface{}) {
	b.logger.Errorf(trim(format), v...)
}

func (b *badgerLogger) Warningf(format string, v ...interface{}) {
	b.logger.Warnf(trim(format), v...)
}

func (b *badgerLogger) Infof(format string, v ...interface{}) {
	b.logger.Debugf(trim(format), v...)
}

func (b *badgerLogger) Debugf(format string, v ...interface{}) {
	b.logger.Debugf(trim(format), v...)
}

func trim(format string) string {
	return strings.TrimRight(format, "\n")
}

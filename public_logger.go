package common

import (
	"github.com/Connect-Club/connectclub-meet-common/logs"
	log "github.com/sirupsen/logrus"
)

type PublicLogger interface {
	log.FieldLogger
}

func NewLogger(caller string) PublicLogger {
	return logs.New(caller)
}

func SetLogLevel(level string) {
	logs.SetLevel(level)
}

func InitLoggerFile(filesDir string, filename string) error {
	return logs.InitLoggerFile(filesDir, filename)
}

func CloseLoggerFile() {
	logs.CloseLoggerFile()
}

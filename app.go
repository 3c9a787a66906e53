package common

import (
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
)

// Initialize prepares the process for long-lived network sessions.
func Initialize() {
	signal.Ignore(syscall.SIGPIPE)
	log.Info("meetsync initialized")
}

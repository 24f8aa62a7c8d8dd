package wlcmgr

import "github.com/sirupsen/logrus"

// Module-level logger
var logger = logrus.WithField("module", "wlcmgr")

// GetLogger returns the module's logger
func GetLogger() *logrus.Entry {
	return logger
}

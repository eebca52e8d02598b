package app

import "github.com/sirupsen/logrus"

var log = logrus.WithFields(logrus.Fields{
	"component": "app",
})

func Init(logger *logrus.Logger) error {
	log = logger.WithFields(logrus.Fields{
		"component": "app",
	})
	return nil
}

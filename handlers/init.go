package handlers

import "github.com/sirupsen/logrus"

var log = logrus.WithFields(logrus.Fields{
	"component": "handlers",
})

func Init(logger *logrus.Logger) error {
	log = logger.WithFields(logrus.Fields{
		"component": "handlers",
	})
	return nil
}

package store

import "github.com/sirupsen/logrus"

var log = logrus.WithFields(logrus.Fields{
	"component": "store",
})

func Init(logger *logrus.Logger) error {
	log = logger.WithFields(logrus.Fields{
		"component": "store",
	})
	return nil
}

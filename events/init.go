package events

import "github.com/sirupsen/logrus"

var log = logrus.WithFields(logrus.Fields{
	"component": "events",
})

func Init(logger *logrus.Logger) error {
	log = logger.WithFields(logrus.Fields{
		"component": "events",
	})
	return nil
}

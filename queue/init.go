package queue

import "github.com/sirupsen/logrus"

var log = logrus.WithFields(logrus.Fields{
	"component": "queue",
})

func Init(logger *logrus.Logger) error {
	log = logger.WithFields(logrus.Fields{
		"component": "queue",
	})
	return nil
}

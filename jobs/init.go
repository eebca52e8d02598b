package jobs

import "github.com/sirupsen/logrus"

var log = logrus.WithFields(logrus.Fields{
	"component": "jobs",
})

func Init(logger *logrus.Logger) error {
	log = logger.WithFields(logrus.Fields{
		"component": "jobs",
	})
	return nil
}

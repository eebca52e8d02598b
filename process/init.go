package process

import "github.com/sirupsen/logrus"

var log = logrus.WithFields(logrus.Fields{
	"component": "process",
})

func Init(logger *logrus.Logger) error {
	log = logger.WithFields(logrus.Fields{
		"component": "process",
	})
	return nil
}

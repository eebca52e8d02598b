package watch

import "github.com/sirupsen/logrus"

var log = logrus.WithFields(logrus.Fields{
	"component": "watch",
})

func Init(logger *logrus.Logger) error {
	log = logger.WithFields(logrus.Fields{
		"component": "watch",
	})
	return nil
}

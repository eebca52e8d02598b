package media

import "github.com/sirupsen/logrus"

var log = logrus.WithFields(logrus.Fields{
	"component": "media",
})

func Init(logger *logrus.Logger) error {
	log = logger.WithFields(logrus.Fields{
		"component": "media",
	})
	return nil
}

package segments

import "github.com/sirupsen/logrus"

var log = logrus.WithFields(logrus.Fields{
	"component": "segments",
})

func Init(logger *logrus.Logger) error {
	log = logger.WithFields(logrus.Fields{
		"component": "segments",
	})
	return nil
}

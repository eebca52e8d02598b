package users

import "github.com/sirupsen/logrus"

var log = logrus.WithFields(logrus.Fields{
	"component": "users",
})

func Init(logger *logrus.Logger) error {
	log = logger.WithFields(logrus.Fields{
		"component": "users",
	})
	return nil
}

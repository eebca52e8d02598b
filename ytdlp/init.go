package ytdlp

import "github.com/sirupsen/logrus"

var log = logrus.WithFields(logrus.Fields{
	"component": "ytdlp",
})

func Init(logger *logrus.Logger) error {
	log = logger.WithFields(logrus.Fields{
		"component": "ytdlp",
	})
	return nil
}

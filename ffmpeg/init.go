package ffmpeg

import "github.com/sirupsen/logrus"

var log = logrus.WithFields(logrus.Fields{
	"component": "ffmpeg",
})

func Init(logger *logrus.Logger) error {
	log = logger.WithFields(logrus.Fields{
		"component": "ffmpeg",
	})
	return nil
}

package jobs

import (
	"context"
	"encoding/json"

	"vod-archiver/videos"
)

// Generic holds a task of a kind this build does not know. The payload is
// written back unchanged so a newer version can still run it.
type Generic struct {
	RawKind string
	Payload json.RawMessage
}

func (g *Generic) Kind() string { return g.RawKind }

func (g *Generic) MarshalJSON() ([]byte, error) {
	if len(g.Payload) == 0 {
		return []byte("null"), nil
	}
	return g.Payload, nil
}

func (g *Generic) FileURLs(context.Context, *Env, *Job) ([]string, error) {
	return nil, nil
}

func (g *Generic) TargetFilename(v videos.Descriptor) string {
	return TargetFilename(v)
}

func (g *Generic) Run(context.Context, *Env, *Job) error {
	return Dead("unknown job kind %q", g.RawKind)
}

package store

import (
	"bufio"
	"bytes"
	"strconv"
	"strings"
	"time"

	"vod-archiver/watch"
)

const legacyFields = 5

// ParseLegacyWatches reads the old line format: a "#datacount N" header, then
// one watch per line as N slash-separated fields
//
//	category/identifier/autoDownload/lastRefreshedOn/remoteUserId
//
// lastRefreshedOn is in unix seconds. Missing trailing fields keep their
// defaults. The identifier may contain slashes, so the trailing fields are
// matched from the end of the line by their form.
func ParseLegacyWatches(data []byte) []watch.UserWatch {
	count := 0
	var out []watch.UserWatch
	sc := bufio.NewScanner(bytes.NewReader(data))
	for lineNo := 1; sc.Scan(); lineNo++ {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "#") {
			if v, ok := strings.CutPrefix(line, "#datacount"); ok {
				if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && n > 0 {
					count = n
				}
			}
			continue
		}
		w, ok := parseLegacyLine(line, count)
		if !ok {
			log.Warnf("skipping legacy watch line %d: %q", lineNo, line)
			continue
		}
		out = append(out, w)
	}
	return out
}

func parseLegacyLine(line string, count int) (watch.UserWatch, bool) {
	parts := strings.Split(line, "/")
	if len(parts) < 2 {
		return watch.UserWatch{}, false
	}
	cat, err := watch.ParseCategory(parts[0])
	if err != nil {
		return watch.UserWatch{}, false
	}
	if count <= 0 || count > legacyFields {
		count = legacyFields
	}
	rest := parts[1:]
	trailing := legacyTrailing(rest, count-2)
	w := watch.UserWatch{
		Category:    cat,
		Identifier:  strings.TrimSpace(strings.Join(rest[:len(rest)-len(trailing)], "/")),
		Persistable: true,
	}
	if w.Identifier == "" {
		return watch.UserWatch{}, false
	}
	if len(trailing) > 0 {
		w.AutoDownload, _ = parseLegacyBool(trailing[0])
	}
	if len(trailing) > 1 {
		if sec, _ := strconv.ParseInt(strings.TrimSpace(trailing[1]), 10, 64); sec > 0 {
			w.LastRefreshedOn = time.Unix(sec, 0).UTC()
		}
	}
	if len(trailing) > 2 {
		w.RemoteUserID, _ = strconv.ParseInt(strings.TrimSpace(trailing[2]), 10, 64)
	}
	return w, true
}

// legacyTrailing returns the longest suffix of rest, at most limit fields and
// leaving at least one field for the identifier, that reads as
// autoDownload[/lastRefreshedOn[/remoteUserId]].
func legacyTrailing(rest []string, limit int) []string {
	for k := min(limit, len(rest)-1); k > 0; k-- {
		tail := rest[len(rest)-k:]
		if _, ok := parseLegacyBool(tail[0]); !ok {
			continue
		}
		valid := true
		for _, f := range tail[1:] {
			if _, err := strconv.ParseInt(strings.TrimSpace(f), 10, 64); err != nil {
				valid = false
				break
			}
		}
		if valid {
			return tail
		}
	}
	return nil
}

// parseLegacyBool accepts only the words the old format wrote, so an
// identifier segment like "1" stays part of the identifier.
func parseLegacyBool(s string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true":
		return true, true
	case "false":
		return false, true
	}
	return false, false
}

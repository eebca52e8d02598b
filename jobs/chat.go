package jobs

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"vod-archiver/videos"
)

// TwitchChatReplay archives the chat of a recorded broadcast as one JSON file.
// Pages are appended to messages.jsonl in the work dir and the cursor is
// stored next to it, so an interrupted job continues with the next page.
type TwitchChatReplay struct{}

func (t *TwitchChatReplay) Kind() string { return KindTwitchChatReplay }

func (t *TwitchChatReplay) FileURLs(context.Context, *Env, *Job) ([]string, error) {
	return nil, nil
}

func (t *TwitchChatReplay) TargetFilename(v videos.Descriptor) string {
	return TargetFilename(v) + "_chat"
}

type chatArchive struct {
	Video    videos.Descriptor `json:"video"`
	Messages []json.RawMessage `json:"messages"`
}

func (t *TwitchChatReplay) Run(ctx context.Context, env *Env, j *Job) error {
	if env.Chat == nil {
		return fmt.Errorf("no chat source configured")
	}
	v := j.Video()
	if v.RecordingState == videos.StateLive {
		return RetryLater("video is still live")
	}
	final := filepath.Join(env.TargetDir, t.TargetFilename(v)+".json")
	if fileExists(final) {
		j.SetOutputPath(final)
		j.SetStatusText("Already downloaded")
		return nil
	}
	if err := checkFreeSpace(env, env.TempDir); err != nil {
		return err
	}
	j.SetValidated(true)

	work := workDir(env, v)
	if err := os.MkdirAll(work, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", work, err)
	}
	msgPath := filepath.Join(work, "messages.jsonl")
	cursorPath := filepath.Join(work, "cursor")

	cp, err := readCheckpoint(cursorPath)
	if err != nil {
		return err
	}
	// drop messages appended after the last checkpoint
	if err := truncateTo(msgPath, cp.offset); err != nil {
		return err
	}
	pages := 0
	for !cp.done {
		page, err := env.Chat.FetchChat(ctx, v, cp.cursor)
		if err != nil {
			return sourceError("fetch chat", err)
		}
		size, err := appendMessages(msgPath, page.Messages)
		if err != nil {
			return err
		}
		cp = checkpoint{cursor: page.Next, done: page.Done || page.Next == "", offset: size}
		if err := writeCheckpoint(cursorPath, cp); err != nil {
			return err
		}
		pages++
		j.SetStatusText(fmt.Sprintf("Downloading chat... (%d pages)", pages))
	}

	msgs, err := readMessages(msgPath)
	if err != nil {
		return err
	}
	return withDiskIO(ctx, env, func() error {
		j.SetStatusText("Writing chat file...")
		data, err := json.Marshal(chatArchive{Video: v, Messages: msgs})
		if err != nil {
			return fmt.Errorf("marshal chat archive: %w", err)
		}
		tmp := filepath.Join(work, "chat.json")
		if err := os.WriteFile(tmp, data, 0o644); err != nil {
			return fmt.Errorf("write %s: %w", tmp, err)
		}
		if err := moveFile(tmp, final); err != nil {
			return err
		}
		j.SetOutputPath(final)
		if err := os.RemoveAll(work); err != nil {
			log.Warnf("couldn't clean up %s: %v", work, err)
		}
		j.SetStatusText(fmt.Sprintf("Done (%d messages)", len(msgs)))
		return nil
	})
}

// checkpoint is the cursor file: the next cursor, "done" or "more", and the
// size of messages.jsonl once that cursor's predecessors were appended.
type checkpoint struct {
	cursor string
	done   bool
	offset int64
}

func readCheckpoint(path string) (checkpoint, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return checkpoint{}, nil
	}
	if err != nil {
		return checkpoint{}, fmt.Errorf("read %s: %w", path, err)
	}
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	cp := checkpoint{cursor: lines[0], offset: -1}
	cp.done = len(lines) > 1 && lines[1] == "done"
	if len(lines) > 2 {
		if n, err := strconv.ParseInt(lines[2], 10, 64); err == nil && n >= 0 {
			cp.offset = n
		}
	}
	return cp, nil
}

func writeCheckpoint(path string, cp checkpoint) error {
	state := "more"
	if cp.done {
		state = "done"
	}
	content := fmt.Sprintf("%s\n%s\n%d\n", cp.cursor, state, cp.offset)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(content), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	return os.Rename(tmp, path)
}

// truncateTo cuts path back to size. A negative size leaves it alone.
func truncateTo(path string, size int64) error {
	if size < 0 {
		return nil
	}
	fi, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("stat %s: %w", path, err)
	}
	if fi.Size() <= size {
		return nil
	}
	log.Warnf("discarding %d bytes of %s written after the last checkpoint", fi.Size()-size, path)
	if err := os.Truncate(path, size); err != nil {
		return fmt.Errorf("truncate %s: %w", path, err)
	}
	return nil
}

// appendMessages returns the size of path after the append.
func appendMessages(path string, msgs []json.RawMessage) (int64, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", path, err)
	}
	w := bufio.NewWriter(f)
	for _, m := range msgs {
		// compact so every message stays on one line
		line, err := json.Marshal(m)
		if err != nil {
			_ = f.Close()
			return 0, fmt.Errorf("encode chat message: %w", err)
		}
		w.Write(line)
		w.WriteByte('\n')
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return 0, fmt.Errorf("write %s: %w", path, err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return 0, fmt.Errorf("sync %s: %w", path, err)
	}
	fi, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return 0, fmt.Errorf("stat %s: %w", path, err)
	}
	return fi.Size(), f.Close()
}

func readMessages(path string) ([]json.RawMessage, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return []json.RawMessage{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	msgs := []json.RawMessage{}
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		msgs = append(msgs, json.RawMessage(line))
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return msgs, nil
}

package persistence

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/talgya/townsim/internal/engine"
)

// Archive appends events to hourly zstd-compressed JSONL files under a
// directory. It keeps the full history the database trims away.
type Archive struct {
	dir    string
	prefix string
	now    func() time.Time

	mu      sync.Mutex
	curHour string
	f       *os.File
	enc     *zstd.Encoder
	w       *bufio.Writer
}

// NewArchive creates an archive writing <prefix>-<hour>.jsonl.zst files.
func NewArchive(dir, prefix string) *Archive {
	return &Archive{dir: dir, prefix: prefix, now: time.Now}
}

// WriteEvents appends one line per event.
func (a *Archive) WriteEvents(events []engine.Event) error {
	if len(events) == 0 {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	hour := a.now().UTC().Format("2006-01-02-15")
	if hour != a.curHour {
		if err := a.rotateLocked(hour); err != nil {
			return err
		}
	}
	for _, e := range events {
		b, err := json.Marshal(e)
		if err != nil {
			return err
		}
		if _, err := a.w.Write(b); err != nil {
			return err
		}
		if err := a.w.WriteByte('\n'); err != nil {
			return err
		}
	}
	if err := a.w.Flush(); err != nil {
		return err
	}
	return a.enc.Flush()
}

// Close flushes and closes the current file.
func (a *Archive) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.closeLocked()
}

func (a *Archive) rotateLocked(hour string) error {
	if err := a.closeLocked(); err != nil {
		return err
	}
	if err := os.MkdirAll(a.dir, 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(a.path(hour), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	a.f = f
	a.enc = enc
	a.w = bufio.NewWriterSize(enc, 64*1024)
	a.curHour = hour
	return nil
}

func (a *Archive) closeLocked() error {
	var err error
	if a.w != nil {
		err = a.w.Flush()
	}
	if a.enc != nil {
		err = errors.Join(err, a.enc.Close())
		a.enc = nil
	}
	if a.f != nil {
		err = errors.Join(err, a.f.Close())
		a.f = nil
	}
	a.w = nil
	a.curHour = ""
	return err
}

func (a *Archive) path(hour string) string {
	return filepath.Join(a.dir, fmt.Sprintf("%s-%s.jsonl.zst", a.prefix, hour))
}

// ReadArchive decodes every event in one archive file. Files appended to
// across restarts hold several zstd frames; the decoder reads them in
// sequence. The file being written ends in an open frame and reads up to
// its last flushed block.
func ReadArchive(path string) ([]engine.Event, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return nil, err
	}
	defer dec.Close()

	var out []engine.Event
	jd := json.NewDecoder(bufio.NewReader(dec))
	for {
		var raw struct {
			Tick        uint64           `json:"tick"`
			Kind        engine.EventKind `json:"kind"`
			Description string           `json:"description"`
			Data        json.RawMessage  `json:"data,omitempty"`
		}
		if err := jd.Decode(&raw); errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return out, nil
		} else if err != nil {
			return out, fmt.Errorf("%s: %w", path, err)
		}
		e := engine.Event{Tick: raw.Tick, Kind: raw.Kind, Description: raw.Description}
		if len(raw.Data) > 0 {
			e.Data = raw.Data
		}
		out = append(out, e)
	}
}

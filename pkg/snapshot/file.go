package snapshot

import (
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	_ "golang.org/x/image/webp"
	"gopkg.in/yaml.v3"

	"github.com/Equbuxu/PixelPainter-sub000/pkg/canvas"
	"github.com/Equbuxu/PixelPainter-sub000/pkg/imageconv"
)

// Document is the on-disk form of a snapshot.
type Document struct {
	Settings struct {
		CanvasID int     `yaml:"canvas_id"`
		Strategy string  `yaml:"strategy"`
		Speed    float64 `yaml:"speed"`
	} `yaml:"settings"`
	Identities []IdentityDoc `yaml:"identities"`
	Tasks      []TaskDoc     `yaml:"tasks"`
	Manual     []ManualPixel `yaml:"manual"`
}

// IdentityDoc describes one identity; Enabled defaults to true.
type IdentityDoc struct {
	ID        string `yaml:"id"`
	AuthKey   string `yaml:"auth_key"`
	AuthToken string `yaml:"auth_token"`
	Proxy     string `yaml:"proxy"`
	Enabled   *bool  `yaml:"enabled"`
}

// TaskDoc points at a source image, relative to the document unless
// absolute. Enabled defaults to true.
type TaskDoc struct {
	ID      string `yaml:"id"`
	Image   string `yaml:"image"`
	X       int    `yaml:"x"`
	Y       int    `yaml:"y"`
	Repeat  bool   `yaml:"repeat"`
	Dither  bool   `yaml:"dither"`
	Enabled *bool  `yaml:"enabled"`
}

// ReadDocument parses the YAML document at path.
func ReadDocument(path string) (Document, error) {
	var doc Document
	b, err := os.ReadFile(path)
	if err != nil {
		return doc, err
	}
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return doc, fmt.Errorf("snapshot: parse %s: %w", path, err)
	}
	seen := make(map[string]bool)
	for i, t := range doc.Tasks {
		if t.ID == "" {
			doc.Tasks[i].ID = t.Image
		}
		if seen[doc.Tasks[i].ID] {
			return doc, fmt.Errorf("snapshot: duplicate task id %q", doc.Tasks[i].ID)
		}
		seen[doc.Tasks[i].ID] = true
	}
	for _, id := range doc.Identities {
		if id.ID == "" {
			return doc, errors.New("snapshot: identity without id")
		}
	}
	return doc, nil
}

func enabled(b *bool) bool { return b == nil || *b }

// FileSource keeps a Snapshot in sync with a YAML document. Task images are
// quantized once per file version and reused across reloads.
type FileSource struct {
	path     string
	snap     *Snapshot
	palette  canvas.Palette
	log      *zap.Logger
	debounce time.Duration

	mu    sync.Mutex
	convs map[string]converted
}

type converted struct {
	mod  time.Time
	size int64
	conv *imageconv.Converter
}

func NewFileSource(path string, snap *Snapshot, p canvas.Palette) *FileSource {
	return &FileSource{
		path:     filepath.Clean(path),
		snap:     snap,
		palette:  p,
		log:      zap.L().With(zap.String("snapshot", path)),
		debounce: 200 * time.Millisecond,
		convs:    make(map[string]converted),
	}
}

// Load reads the document and replaces every snapshot field. On error the
// snapshot is left untouched.
func (f *FileSource) Load() error {
	doc, err := ReadDocument(f.path)
	if err != nil {
		return err
	}
	ids := make([]Identity, 0, len(doc.Identities))
	for _, d := range doc.Identities {
		ids = append(ids, Identity{ID: d.ID, AuthKey: d.AuthKey, AuthToken: d.AuthToken, Proxy: d.Proxy, Enabled: enabled(d.Enabled)})
	}
	tasks := make([]Task, 0, len(doc.Tasks))
	for _, d := range doc.Tasks {
		img, err := f.image(d.Image, d.Dither)
		if err != nil {
			return fmt.Errorf("snapshot: task %q: %w", d.ID, err)
		}
		tasks = append(tasks, Task{ID: d.ID, Image: img, X: d.X, Y: d.Y, Repeat: d.Repeat, Enabled: enabled(d.Enabled)})
	}
	f.snap.SetIdentities(ids)
	f.snap.SetTasks(tasks)
	f.snap.SetManualPixels(doc.Manual)
	f.snap.SetSettings(Settings{CanvasID: doc.Settings.CanvasID, Strategy: doc.Settings.Strategy, Speed: doc.Settings.Speed})
	f.log.Info("snapshot loaded", zap.Int("identities", len(ids)), zap.Int("tasks", len(tasks)), zap.Int("manual", len(doc.Manual)))
	return nil
}

func (f *FileSource) image(rel string, dither bool) (*image.NRGBA, error) {
	if rel == "" {
		return nil, errors.New("no image path")
	}
	path := rel
	if !filepath.IsAbs(path) {
		path = filepath.Join(filepath.Dir(f.path), rel)
	}
	st, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	c, ok := f.convs[path]
	f.mu.Unlock()
	if !ok || !c.mod.Equal(st.ModTime()) || c.size != st.Size() {
		src, err := decodeFile(path)
		if err != nil {
			return nil, err
		}
		c = converted{mod: st.ModTime(), size: st.Size(), conv: imageconv.New(src, f.palette)}
		f.mu.Lock()
		f.convs[path] = c
		f.mu.Unlock()
	}
	return c.conv.Convert(dither), nil
}

func decodeFile(path string) (image.Image, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer fh.Close()
	img, _, err := image.Decode(fh)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return img, nil
}

// Watch reloads the document whenever it changes until ctx is done. The
// parent directory is watched so editors that replace the file are seen.
func (f *FileSource) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("snapshot: create watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(f.path)); err != nil {
		w.Close()
		return fmt.Errorf("snapshot: watch %s: %w", filepath.Dir(f.path), err)
	}
	go f.watch(ctx, w)
	return nil
}

func (f *FileSource) watch(ctx context.Context, w *fsnotify.Watcher) {
	defer w.Close()
	var (
		timer *time.Timer
		fire  <-chan time.Time
	)
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != f.path || !ev.Has(fsnotify.Write|fsnotify.Create|fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(f.debounce)
			} else {
				timer.Reset(f.debounce)
			}
			fire = timer.C
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			f.log.Warn("snapshot watcher", zap.Error(err))
		case <-fire:
			fire = nil
			if err := f.Load(); err != nil {
				f.log.Warn("snapshot reload failed", zap.Error(err))
			}
		}
	}
}

package canvas

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/png"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ErrBadRaster is returned when a downloaded raster cannot be decoded.
var ErrBadRaster = errors.New("canvas: bad raster")

// FetcherConfig configures raster downloads. URL templates contain one %d
// verb for the board id.
type FetcherConfig struct {
	RasterURL     string
	ProtectionURL string
	Sentinel      color.NRGBA
	UserAgent     string
	Timeout       time.Duration
}

// Fetcher downloads the visible raster and the protection mask of a board.
type Fetcher struct {
	cfg    FetcherConfig
	client *http.Client
}

// NewFetcher returns a fetcher; a nil client gets a default one bounded by
// cfg.Timeout.
func NewFetcher(cfg FetcherConfig, client *http.Client) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &Fetcher{cfg: cfg, client: client}
}

// FetchRaster downloads the board image and maps it onto p.
func (f *Fetcher) FetchRaster(ctx context.Context, board int, p Palette) (*Mirror, error) {
	img, err := f.get(ctx, f.cfg.RasterURL, board)
	if err != nil {
		return nil, err
	}
	m := MirrorFromImage(board, img, p)
	zap.L().Debug("canvas raster fetched", zap.Int("board", board), zap.Int("w", m.Width()), zap.Int("h", m.Height()))
	return m, nil
}

// FetchMask downloads the protection raster of a board.
func (f *Fetcher) FetchMask(ctx context.Context, board int) (*Mask, error) {
	if strings.TrimSpace(f.cfg.ProtectionURL) == "" {
		return nil, fmt.Errorf("canvas: no protection url configured")
	}
	img, err := f.get(ctx, f.cfg.ProtectionURL, board)
	if err != nil {
		return nil, err
	}
	return MaskFromImage(img, f.cfg.Sentinel), nil
}

func (f *Fetcher) get(ctx context.Context, tmpl string, board int) (image.Image, error) {
	url := fmt.Sprintf(tmpl, board)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("canvas: build request: %w", err)
	}
	if f.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", f.cfg.UserAgent)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("canvas: get %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("canvas: get %s: status %d", url, resp.StatusCode)
	}
	img, _, err := image.Decode(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrBadRaster, url, err)
	}
	return img, nil
}

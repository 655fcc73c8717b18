// pixelpainter-convert quantizes an image to the board palette and writes a
// PNG preview, printing how many pixels use each palette colour.
package main

import (
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"log"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/pflag"
	_ "golang.org/x/image/webp"

	"github.com/Equbuxu/PixelPainter-sub000/pkg/canvas"
	"github.com/Equbuxu/PixelPainter-sub000/pkg/imageconv"
)

func main() {
	fs := pflag.NewFlagSet("pixelpainter-convert", pflag.ExitOnError)
	out := fs.StringP("out", "o", "", "output PNG path (default: <input>.quantized.png)")
	dither := fs.BoolP("dither", "d", false, "apply Floyd-Steinberg error diffusion")
	palette := fs.StringSlice("palette", nil, "palette override as hex colours (default: built-in board palette)")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: pixelpainter-convert [flags] <image>\n")
		fs.PrintDefaults()
	}
	_ = fs.Parse(os.Args[1:])
	if fs.NArg() != 1 {
		fs.Usage()
		os.Exit(2)
	}
	in := fs.Arg(0)
	if *out == "" {
		*out = strings.TrimSuffix(in, extOf(in)) + ".quantized.png"
	}

	p := canvas.DefaultPalette
	if len(*palette) > 0 {
		var err error
		if p, err = canvas.ParsePalette(*palette); err != nil {
			log.Fatal(err)
		}
	}

	src, err := decode(in)
	if err != nil {
		log.Fatal(err)
	}
	img := imageconv.New(src, p).Convert(*dither)
	if err := writePNG(*out, img); err != nil {
		log.Fatal(err)
	}

	b := img.Bounds()
	fmt.Printf("%s -> %s  %dx%d  %s pixels  dither=%v\n", in, *out, b.Dx(), b.Dy(), humanize.Comma(int64(b.Dx()*b.Dy())), *dither)
	for i, n := range imageconv.Usage(img, p) {
		if n == 0 {
			continue
		}
		c, _ := p.Color(i)
		fmt.Printf("  %3d  #%02x%02x%02x  %10s\n", i, c.R, c.G, c.B, humanize.Comma(int64(n)))
	}
}

func decode(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return img, nil
}

func writePNG(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, img); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func extOf(path string) string {
	i := strings.LastIndexByte(path, '.')
	if i <= strings.LastIndexAny(path, "/\\") {
		return ""
	}
	return path[i:]
}

// MODUL: image
// ZWECK: Bild-Dekodierung und Normalisierung fuer den Vision-Encoder
// INPUT: Bild-Bytes, Verarbeitungsoptionen
// OUTPUT: RGBA-Bild bzw. normalisierter RGB-Float-Puffer
// NEBENEFFEKTE: keine
// ABHAENGIGKEITEN: golang.org/x/image/draw (extern), image/jpeg, image/png
// HINWEISE: Alle Bilder werden als RGBA konvertiert, WebP und BMP ueber x/image

package media

import (
	"bytes"
	"fmt"
	"image"
	"image/color"

	// Standard-Decoder registrieren
	_ "image/jpeg"
	_ "image/png"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"

	"github.com/7blacky7/infera/api"
)

// decodeImage dekodiert Bild-Bytes zu RGBA
func decodeImage(data []byte) (*image.RGBA, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: decode image: %v", api.ErrIngest, err)
	}
	return toRGBA(img), nil
}

// toRGBA konvertiert ein beliebiges image.Image zu *image.RGBA
func toRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok {
		return rgba
	}

	bounds := img.Bounds()
	rgba := image.NewRGBA(bounds)
	draw.Draw(rgba, bounds, img, bounds.Min, draw.Src)
	return rgba
}

// resizeImage skaliert auf die angegebene Groesse
func resizeImage(img *image.RGBA, width, height int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.BiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Over, nil)
	return dst
}

// aspectSize berechnet die Zielgroesse unter Beibehaltung des
// Seitenverhaeltnisses
func aspectSize(srcW, srcH, maxW, maxH int) (int, int) {
	ratioW := float64(maxW) / float64(srcW)
	ratioH := float64(maxH) / float64(srcH)

	ratio := ratioW
	if ratioH < ratioW {
		ratio = ratioH
	}

	w := int(float64(srcW) * ratio)
	h := int(float64(srcH) * ratio)
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	return w, h
}

// padToSquare legt das Bild zentriert auf eine quadratische schwarze Flaeche
func padToSquare(img *image.RGBA) *image.RGBA {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w == h {
		return img
	}

	side := w
	if h > side {
		side = h
	}

	dst := image.NewRGBA(image.Rect(0, 0, side, side))
	draw.Draw(dst, dst.Bounds(), &image.Uniform{color.Black}, image.Point{}, draw.Src)

	offset := image.Pt((side-w)/2, (side-h)/2)
	draw.Draw(dst, bounds.Add(offset), img, bounds.Min, draw.Over)
	return dst
}

// prepareImage wendet die Verarbeitungsoptionen des Inputs an und liefert
// den normalisierten RGB-Puffer fuer den Encoder (HWC, Werte in [0,1]).
func prepareImage(img *image.RGBA, in *Input) ([]float32, int, int) {
	if in.TargetSize > 0 {
		if in.KeepAspect {
			w, h := aspectSize(img.Bounds().Dx(), img.Bounds().Dy(), in.TargetSize, in.TargetSize)
			img = resizeImage(img, w, h)
		} else {
			img = resizeImage(img, in.TargetSize, in.TargetSize)
		}
	}
	if in.PadToSquare {
		img = padToSquare(img)
	}

	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	pixels := make([]float32, 0, w*h*3)
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, g, b, _ := img.At(x, y).RGBA()
			pixels = append(pixels,
				float32(r>>8)/255,
				float32(g>>8)/255,
				float32(b>>8)/255)
		}
	}
	return pixels, w, h
}

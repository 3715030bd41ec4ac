package notify

import (
	"image"
	"testing"
)

func TestNewAlerterRequiresBothCredentials(t *testing.T) {
	if _, err := NewAlerter("", "token"); err == nil {
		t.Fatal("expected error without user key")
	}
	if _, err := NewAlerter("user", ""); err == nil {
		t.Fatal("expected error without api token")
	}
	if _, err := NewAlerter("user", "token"); err != nil {
		t.Fatalf("NewAlerter: %v", err)
	}
}

func TestThumbnailDownscalesLongEdge(t *testing.T) {
	cases := []struct {
		w, h         int
		wantW, wantH int
	}{
		{1920, 1080, 512, 288},
		{1080, 1920, 288, 512},
		{2048, 2048, 512, 512},
	}
	for _, tc := range cases {
		img := image.NewRGBA(image.Rect(0, 0, tc.w, tc.h))
		thumb := Thumbnail(img, 512)
		b := thumb.Bounds()
		if b.Dx() != tc.wantW || b.Dy() != tc.wantH {
			t.Errorf("Thumbnail(%dx%d) = %dx%d, want %dx%d",
				tc.w, tc.h, b.Dx(), b.Dy(), tc.wantW, tc.wantH)
		}
	}
}

func TestThumbnailKeepsSmallImages(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 320, 240))
	if Thumbnail(img, 512) != image.Image(img) {
		t.Fatal("small image should be returned unchanged")
	}
}

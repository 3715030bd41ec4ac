// Package notify sends push notifications for detection events through
// Pushover. Alerting is optional: without both credentials the caller
// simply does not construct an Alerter.
package notify

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"

	"github.com/gregdel/pushover"
	"golang.org/x/image/draw"
)

const (
	alertTitle    = "Bird Detected"
	maxAttachment = 512 // longest edge of the attached thumbnail, px
	jpegQuality   = 80
)

// Alerter sends detection alerts to a single Pushover recipient.
type Alerter struct {
	app       *pushover.Pushover
	recipient *pushover.Recipient
}

// NewAlerter creates an Alerter. Both credentials are required.
func NewAlerter(userKey, apiToken string) (*Alerter, error) {
	if userKey == "" || apiToken == "" {
		return nil, fmt.Errorf("pushover user key and api token are both required")
	}
	return &Alerter{
		app:       pushover.New(apiToken),
		recipient: pushover.NewRecipient(userKey),
	}, nil
}

// Send pushes a notification carrying the top label and a downscaled
// JPEG of the frame. Errors are returned for logging; the caller does
// not retry.
func (a *Alerter) Send(img image.Image, label string) error {
	thumb := Thumbnail(img, maxAttachment)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, thumb, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return fmt.Errorf("failed to encode alert image: %w", err)
	}

	msg := pushover.NewMessageWithTitle(label, alertTitle)
	msg.Sound = pushover.SoundIntermission
	if err := msg.AddAttachment(&buf); err != nil {
		return fmt.Errorf("failed to attach alert image: %w", err)
	}

	if _, err := a.app.SendMessage(msg, a.recipient); err != nil {
		return fmt.Errorf("failed to send alert: %w", err)
	}
	return nil
}

// Thumbnail scales img down so its longest edge is at most maxEdge,
// preserving aspect ratio. Images already small enough are returned
// unchanged.
func Thumbnail(img image.Image, maxEdge int) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= maxEdge && h <= maxEdge {
		return img
	}

	if w >= h {
		h = h * maxEdge / w
		w = maxEdge
	} else {
		w = w * maxEdge / h
		h = maxEdge
	}
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)
	return dst
}

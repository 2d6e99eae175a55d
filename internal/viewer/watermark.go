package viewer

import "time"

// Watermark describes the translucent rotated overlay rendered over protected
// content. The text carries the principal's email and a timestamp so that
// successive captures are individually attributable. This is deterrence by
// attribution; it does not stop a camera pointed at the screen.
type Watermark struct {
	Text        string    `json:"text"`
	AngleDeg    int       `json:"angle_deg"`
	Opacity     float64   `json:"opacity"`
	GeneratedAt time.Time `json:"generated_at"`
}

const (
	watermarkAngleDeg = 30
	watermarkOpacity  = 0.10
)

func renderWatermark(email string, now time.Time) Watermark {
	now = now.UTC()
	return Watermark{
		Text:        email + " - " + now.Format(time.RFC3339Nano),
		AngleDeg:    watermarkAngleDeg,
		Opacity:     watermarkOpacity,
		GeneratedAt: now,
	}
}

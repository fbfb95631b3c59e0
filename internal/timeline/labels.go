package timeline

import (
	"net/url"
	"time"

	"podcast-timeline/internal/locale"
	"podcast-timeline/internal/models"
)

const fallbackCoverSVG = `<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 300 300">
  <defs>
    <linearGradient id="g" x1="0" x2="1" y1="0" y2="1">
      <stop offset="0" stop-color="#ffdf5c"/>
      <stop offset="1" stop-color="#ffb300"/>
    </linearGradient>
  </defs>
  <rect width="300" height="300" rx="36" fill="#0c0c0f"/>
  <rect x="40" y="36" width="220" height="220" rx="36" fill="url(#g)" stroke="#0c0c0f" stroke-width="14"/>
  <circle cx="150" cy="150" r="54" fill="#0c0c0f"/>
  <path d="M150 92c38 0 68 29 68 64s-30 64-68 64-68-29-68-64 30-64 68-64z" fill="none" stroke="#0c0c0f" stroke-width="18"/>
  <rect x="126" y="196" width="48" height="52" rx="12" fill="#0c0c0f"/>
  <rect x="92" y="236" width="116" height="22" rx="11" fill="#ffcc00" stroke="#0c0c0f" stroke-width="8"/>
</svg>`

// FallbackCover is the built-in placeholder artwork as a data URI.
var FallbackCover = "data:image/svg+xml;utf8," + url.PathEscape(fallbackCoverSVG)

// DateLabel returns the heading for dateKey: today, yesterday, or the long
// weekday and date. Today and yesterday are decided by calendar day in loc,
// not by elapsed hours.
func DateLabel(dateKey string, now time.Time, loc *time.Location, l locale.Locale) string {
	if loc == nil {
		loc = time.Local
	}
	date, err := time.ParseInLocation(models.DateKeyLayout, dateKey, loc)
	if err != nil {
		return dateKey
	}

	y, m, d := now.In(loc).Date()
	today := time.Date(y, m, d, 12, 0, 0, 0, loc)
	switch dateKey {
	case today.Format(models.DateKeyLayout):
		return l.T(locale.MsgToday)
	case today.AddDate(0, 0, -1).Format(models.DateKeyLayout):
		return l.T(locale.MsgYesterday)
	}
	return l.LongDate(date)
}

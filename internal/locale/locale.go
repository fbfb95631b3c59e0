// Package locale holds the user-facing strings and date formats of the player.
package locale

import (
	"fmt"
	"time"

	"golang.org/x/text/feature/plural"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Message keys. The English text doubles as the English translation.
const (
	MsgToday          = "Today"
	MsgYesterday      = "Yesterday"
	MsgAllDates       = "All days"
	MsgEpisodeCount   = "%d episodes"
	MsgNoResults      = "No episodes found."
	MsgLoadFailed     = "The episodes could not be loaded."
	MsgPlaying        = "Playing: %s"
	MsgPlayFailed     = "Could not start the stream. Check your connection."
	MsgPlay           = "Play"
	MsgPause          = "Pause"
	MsgNothingPlaying = "Pick an episode"
	MsgSearch         = "Search by title or host"
	MsgCover          = "%s cover"
)

var supported = []language.Tag{language.Dutch, language.English}

var matcher = language.NewMatcher(supported)

func init() {
	dutch := map[string]string{
		MsgToday:          "Vandaag",
		MsgYesterday:      "Gisteren",
		MsgAllDates:       "Alle dagen",
		MsgNoResults:      "Geen afleveringen gevonden.",
		MsgLoadFailed:     "De afleveringen konden niet worden geladen.",
		MsgPlaying:        "Afspelen: %s",
		MsgPlayFailed:     "Kon de stream niet starten. Controleer je verbinding.",
		MsgPlay:           "Speel af",
		MsgPause:          "Pauzeer",
		MsgNothingPlaying: "Kies een aflevering",
		MsgSearch:         "Zoek op titel of presentator",
		MsgCover:          "%s cover",
	}
	for key, value := range dutch {
		if err := message.SetString(language.Dutch, key, value); err != nil {
			panic(fmt.Sprintf("locale: register %q: %v", key, err))
		}
	}

	counts := map[language.Tag][2]string{
		language.Dutch:   {"%d aflevering", "%d afleveringen"},
		language.English: {"%d episode", "%d episodes"},
	}
	for tag, forms := range counts {
		err := message.Set(tag, MsgEpisodeCount, plural.Selectf(1, "%d", "=1", forms[0], "other", forms[1]))
		if err != nil {
			panic(fmt.Sprintf("locale: register plural for %s: %v", tag, err))
		}
	}
}

// Locale formats strings and dates for one supported language. The zero
// value behaves like the default locale.
type Locale struct {
	tag     language.Tag
	names   names
	printer *message.Printer
}

// New returns the closest supported locale for the BCP 47 name. Unknown or
// empty names fall back to Dutch.
func New(name string) Locale {
	requested, err := language.Parse(name)
	if err != nil {
		requested = language.Und
	}

	_, index, _ := matcher.Match(requested)
	tag := supported[index]
	return Locale{
		tag:     tag,
		names:   tables[tag],
		printer: message.NewPrinter(tag),
	}
}

// Tag returns the matched language tag.
func (l Locale) Tag() language.Tag {
	return l.ready().tag
}

// T returns the translation of key formatted with args.
func (l Locale) T(key string, args ...any) string {
	return l.ready().printer.Sprintf(key, args...)
}

// LongDate formats t as weekday, day and month.
func (l Locale) LongDate(t time.Time) string {
	l = l.ready()
	weekday := l.names.weekdays[t.Weekday()]
	month := l.names.months[t.Month()-1]
	if l.tag == language.English {
		return fmt.Sprintf("%s, %s %d", weekday, month, t.Day())
	}
	return fmt.Sprintf("%s %d %s", weekday, t.Day(), month)
}

// Clock formats the time of day of t with two-digit hours and minutes.
func (l Locale) Clock(t time.Time) string {
	return t.Format(l.ready().names.clock)
}

func (l Locale) ready() Locale {
	if l.printer == nil {
		return New("")
	}
	return l
}

type names struct {
	weekdays [7]string
	months   [12]string
	clock    string
}

var tables = map[language.Tag]names{
	language.Dutch: {
		weekdays: [7]string{"zondag", "maandag", "dinsdag", "woensdag", "donderdag", "vrijdag", "zaterdag"},
		months: [12]string{"januari", "februari", "maart", "april", "mei", "juni",
			"juli", "augustus", "september", "oktober", "november", "december"},
		clock: "15:04",
	},
	language.English: {
		weekdays: [7]string{"Sunday", "Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday"},
		months: [12]string{"January", "February", "March", "April", "May", "June",
			"July", "August", "September", "October", "November", "December"},
		clock: "03:04 PM",
	},
}

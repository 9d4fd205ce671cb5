package subtitles

import (
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// XML timed-text family handled by the internal converter before handing the
// result to the transcoder.
var xmlTimedTextExts = map[string]struct{}{
	"dfxp": {},
	"ttml": {},
	"tt":   {},
}

func isXMLTimedText(ext string) bool {
	_, ok := xmlTimedTextExts[strings.ToLower(ext)]
	return ok
}

type ttmlDocument struct {
	XMLName xml.Name
	Body    struct {
		Divs []struct {
			Paragraphs []ttmlParagraph `xml:"p"`
		} `xml:"div"`
	} `xml:"body"`
}

type ttmlParagraph struct {
	Begin string
	End   string
	Dur   string
	Text  string
}

func (p *ttmlParagraph) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	for _, attr := range start.Attr {
		switch attr.Name.Local {
		case "begin":
			p.Begin = attr.Value
		case "end":
			p.End = attr.Value
		case "dur":
			p.Dur = attr.Value
		}
	}

	var text strings.Builder
	for {
		token, err := d.Token()
		if err != nil {
			return err
		}
		switch t := token.(type) {
		case xml.CharData:
			text.Write(t)
		case xml.StartElement:
			if t.Name.Local == "br" {
				text.WriteByte('\n')
			}
			if err := d.Skip(); err != nil {
				return err
			}
		case xml.EndElement:
			if t.Name == start.Name {
				p.Text = text.String()
				return nil
			}
		}
	}
}

// ConvertTTMLToSRT converts an XML timed-text document to SubRip. Paragraphs
// without usable timing are skipped; a document yielding no cues is an error.
func ConvertTTMLToSRT(data []byte) (string, error) {
	var doc ttmlDocument
	if err := xml.Unmarshal(data, &doc); err != nil {
		return "", fmt.Errorf("parse timed text: %w", err)
	}

	var out strings.Builder
	index := 0
	for _, div := range doc.Body.Divs {
		for _, paragraph := range div.Paragraphs {
			begin, err := parseTTMLTime(paragraph.Begin)
			if err != nil {
				continue
			}
			end, endErr := parseTTMLTime(paragraph.End)
			if endErr != nil {
				dur, durErr := parseTTMLTime(paragraph.Dur)
				if durErr != nil {
					continue
				}
				end = begin + dur
			}
			text := strings.TrimSpace(paragraph.Text)
			if text == "" {
				continue
			}
			index++
			fmt.Fprintf(&out, "%d\n%s --> %s\n%s\n\n", index, formatSRTTime(begin), formatSRTTime(end), text)
		}
	}
	if index == 0 {
		return "", fmt.Errorf("timed text document contains no cues")
	}
	return out.String(), nil
}

// parseTTMLTime handles clock values ("HH:MM:SS.mmm", "MM:SS.mmm") and
// offset values ("12.3s", "4500ms", "2m", "1h").
func parseTTMLTime(raw string) (time.Duration, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return 0, fmt.Errorf("empty time value")
	}

	if strings.Contains(value, ":") {
		parts := strings.Split(value, ":")
		if len(parts) < 2 || len(parts) > 3 {
			return 0, fmt.Errorf("invalid clock value %q", raw)
		}
		var total float64
		for _, part := range parts {
			field, err := strconv.ParseFloat(part, 64)
			if err != nil {
				return 0, fmt.Errorf("invalid clock value %q", raw)
			}
			total = total*60 + field
		}
		return time.Duration(total * float64(time.Second)), nil
	}

	for _, unit := range []struct {
		suffix string
		scale  time.Duration
	}{
		{"ms", time.Millisecond},
		{"s", time.Second},
		{"m", time.Minute},
		{"h", time.Hour},
	} {
		if strings.HasSuffix(value, unit.suffix) {
			number, err := strconv.ParseFloat(strings.TrimSuffix(value, unit.suffix), 64)
			if err != nil {
				return 0, fmt.Errorf("invalid offset value %q", raw)
			}
			return time.Duration(number * float64(unit.scale)), nil
		}
	}
	return 0, fmt.Errorf("unsupported time value %q", raw)
}

func formatSRTTime(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	hours := d / time.Hour
	d -= hours * time.Hour
	minutes := d / time.Minute
	d -= minutes * time.Minute
	seconds := d / time.Second
	millis := (d - seconds*time.Second) / time.Millisecond
	return fmt.Sprintf("%02d:%02d:%02d,%03d", hours, minutes, seconds, millis)
}

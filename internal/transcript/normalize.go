package transcript

import (
	"fmt"
	"regexp"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/JohannesKaufmann/html-to-markdown/plugin"

	"meetsync/internal/services"
	"meetsync/internal/sources"
)

var (
	scriptRe         = regexp.MustCompile(`(?is)<script[^>]*>.*?</script>`)
	styleRe          = regexp.MustCompile(`(?is)<style[^>]*>.*?</style>`)
	excessiveLinesRe = regexp.MustCompile(`\n{4,}`)
)

// Normalizer converts provider transcripts into markdown.
type Normalizer struct {
	converter *md.Converter
}

// NewNormalizer builds a normalizer with GitHub flavoured markdown output.
func NewNormalizer() *Normalizer {
	converter := md.NewConverter("", true, nil)
	converter.Use(plugin.GitHubFlavored())
	return &Normalizer{converter: converter}
}

// Markdown renders t as markdown. Speaker segments, when present, take
// precedence over the flat content for text transcripts.
func (n *Normalizer) Markdown(t sources.Transcript) (string, error) {
	switch t.Format {
	case sources.FormatHTML:
		cleaned := styleRe.ReplaceAllString(scriptRe.ReplaceAllString(t.Content, ""), "")
		markdown, err := n.converter.ConvertString(cleaned)
		if err != nil {
			return "", services.Wrap(services.ErrPermanent, "processing", "convert html", "Transcript HTML could not be converted", err)
		}
		return cleanMarkdown(markdown), nil
	case sources.FormatMarkdown:
		return cleanMarkdown(t.Content), nil
	case sources.FormatText, "":
		if len(t.Segments) > 0 {
			return renderSegments(t.Segments), nil
		}
		return cleanMarkdown(t.Content), nil
	default:
		return "", services.Wrap(services.ErrPermanent, "processing", "normalize", fmt.Sprintf("Unsupported transcript format %q", t.Format), nil)
	}
}

func renderSegments(segments []sources.Segment) string {
	var b strings.Builder
	lastSpeaker := ""
	for _, seg := range segments {
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}
		speaker := strings.TrimSpace(seg.Speaker)
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		if speaker != "" && speaker != lastSpeaker {
			b.WriteString("**")
			b.WriteString(speaker)
			b.WriteString(":** ")
		}
		lastSpeaker = speaker
		b.WriteString(text)
	}
	return b.String()
}

func cleanMarkdown(content string) string {
	content = strings.ReplaceAll(content, "\r\n", "\n")
	content = excessiveLinesRe.ReplaceAllString(content, "\n\n\n")
	lines := strings.Split(content, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

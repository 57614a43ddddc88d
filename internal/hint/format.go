package hint

import "strings"

// MaxHintPoints caps how many bullet points a hint may contain.
const MaxHintPoints = 3

// FormatHint normalises raw model output into at most MaxHintPoints bullet
// lines. Numbered items become "- " bullets, bare lines are joined onto the
// previous bullet, and anything before the first bullet is dropped.
func FormatHint(text string) string {
	var bullets []string
	for _, line := range strings.Split(strings.TrimSpace(text), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		switch {
		case strings.HasPrefix(line, "- "),
			strings.HasPrefix(line, "• "),
			strings.HasPrefix(line, "* "):
			bullets = append(bullets, line)
		case line[0] >= '0' && line[0] <= '9' && strings.Contains(firstN(line, 3), "."):
			if _, rest, ok := strings.Cut(line, "."); ok {
				bullets = append(bullets, "- "+strings.TrimSpace(rest))
			}
		case len(bullets) > 0:
			bullets[len(bullets)-1] += " " + line
		}
	}

	if len(bullets) > MaxHintPoints {
		bullets = bullets[:MaxHintPoints]
	}
	return strings.Join(bullets, "\n")
}

func firstN(s string, n int) string {
	if len(s) < n {
		return s
	}
	return s[:n]
}

package publisher

import "strings"

const (
	messageLimit = 4096
	captionLimit = 1024
)

// splitText режет текст на куски не длиннее limit рун, предпочитая границы строк.
func splitText(text string, limit int) []string {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil
	}

	runes := []rune(trimmed)
	if len(runes) <= limit {
		return []string{trimmed}
	}

	var parts []string
	for start := 0; start < len(runes); {
		end := start + limit
		if end >= len(runes) {
			if chunk := strings.Trim(string(runes[start:]), "\n"); chunk != "" {
				parts = append(parts, chunk)
			}
			break
		}

		split := -1
		for i := end; i > start; i-- {
			if runes[i-1] == '\n' {
				split = i
				break
			}
		}
		if split == -1 {
			split = end
		}

		if chunk := strings.Trim(string(runes[start:split]), "\n"); chunk != "" {
			parts = append(parts, chunk)
		}

		start = split
		for start < len(runes) && runes[start] == '\n' {
			start++
		}
	}
	return parts
}

// clipCaption отделяет подпись к фото от остатка текста, который уходит отдельными сообщениями.
func clipCaption(text string) (caption string, rest []string) {
	parts := splitText(text, captionLimit)
	if len(parts) == 0 {
		return "", nil
	}
	tail := strings.Join(parts[1:], "\n")
	return parts[0], splitText(tail, messageLimit)
}

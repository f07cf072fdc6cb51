package generator

import "strings"

// Normalize trims the model output and unifies line endings. A blank
// narrative is a generation failure.
func Normalize(raw string) (string, error) {
	text := strings.ReplaceAll(raw, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	text = strings.TrimSpace(text)
	if text == "" {
		return "", &GenerationError{Cause: CauseEmptyResult}
	}
	return text, nil
}

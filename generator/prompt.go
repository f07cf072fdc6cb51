package generator

import (
	"fmt"
	"strings"
)

// Prompt is the message pair sent to a chat model.
type Prompt struct {
	System string
	User   string
}

// CorpusPart is the extracted text of one source.
type CorpusPart struct {
	Source string
	Text   string
}

const corpusHeader = "\n\n===== %s =====\n"

// BuildCorpus concatenates parts in the given order, each preceded by a
// header line naming its source. Text is copied in full.
func BuildCorpus(parts []CorpusPart) string {
	var sb strings.Builder
	for _, p := range parts {
		fmt.Fprintf(&sb, corpusHeader, p.Source)
		sb.WriteString(p.Text)
	}
	return sb.String()
}

// BuildPrompt puts the instructions in the system message and the corpus
// in the user message.
func BuildPrompt(req ReviewRequest) Prompt {
	return Prompt{System: req.Instructions, User: req.Corpus}
}

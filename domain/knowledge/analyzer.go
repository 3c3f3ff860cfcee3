package knowledge

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Jalalidin/knowledgevault-sub001/pkg/llm"
)

// ErrNoAnalysis is returned when a completion carries neither a title nor a
// summary.
var ErrNoAnalysis = errors.New("completion contained no analysis")

// promptContentRunes bounds how much content is sent to the model.
const promptContentRunes = 1000

// AnalysisInput is what the model sees of an item.
type AnalysisInput struct {
	Title       string
	Content     string
	Type        ItemType
	FileName    string
	ContentType string
}

// Analyzer derives a title, summary and tags for content using an LLM.
type Analyzer struct {
	provider llm.Provider
}

func NewAnalyzer(provider llm.Provider) *Analyzer {
	return &Analyzer{provider: provider}
}

// Enabled reports whether an LLM backend is configured.
func (a *Analyzer) Enabled() bool {
	return a.provider != nil && a.provider.IsConfigured()
}

// Analyze asks the model for a title, summary, key concepts and tags.
func (a *Analyzer) Analyze(ctx context.Context, in AnalysisInput) (*Analysis, error) {
	if !a.Enabled() {
		return nil, llm.ErrNotConfigured
	}

	text, err := a.provider.Complete(ctx, BuildPrompt(in))
	if err != nil {
		return nil, fmt.Errorf("analyze content: %w", err)
	}

	analysis := ParseAnalysis(text)
	if analysis.Title == "" && analysis.Summary == "" {
		return nil, ErrNoAnalysis
	}
	return analysis, nil
}

// BuildPrompt renders the analysis prompt for in.
func BuildPrompt(in AnalysisInput) string {
	var b strings.Builder
	b.WriteString("Process this content saved to a personal knowledge base:\n\n")
	if in.FileName != "" {
		fmt.Fprintf(&b, "Filename: %s\n", in.FileName)
	}
	if in.Title != "" {
		fmt.Fprintf(&b, "Title: %s\n", in.Title)
	}
	contentType := in.ContentType
	if contentType == "" {
		contentType = string(in.Type)
	}
	fmt.Fprintf(&b, "Content Type: %s\n", contentType)
	fmt.Fprintf(&b, "Content: %s\n\n", Truncate(in.Content, promptContentRunes, "..."))
	b.WriteString("Provide: 1) Title, 2) Summary, 3) Key concepts, 4) Suggested tags (comma-separated)\n")
	b.WriteString("Answer in the language of the content, one field per line, using the labels Title:, Summary:, Key concepts:, Tags:")
	return b.String()
}

// ParseAnalysis extracts labelled fields from a completion. Labels may be
// numbered, bulleted or bold. A completion without tags yields DefaultTag.
func ParseAnalysis(text string) *Analysis {
	a := &Analysis{}
	for _, line := range strings.Split(text, "\n") {
		label, value, ok := splitLabel(line)
		if !ok || value == "" {
			continue
		}
		switch label {
		case "title":
			if a.Title == "" {
				a.Title = value
			}
		case "summary":
			if a.Summary == "" {
				a.Summary = value
			}
		case "key concepts":
			if len(a.KeyConcepts) == 0 {
				a.KeyConcepts = splitList(value)
			}
		case "tags", "suggested tags":
			if len(a.Tags) == 0 {
				a.Tags = NormalizeTags(splitList(value))
			}
		}
	}
	if len(a.Tags) == 0 {
		a.Tags = []string{DefaultTag}
	}
	return a
}

func splitLabel(line string) (string, string, bool) {
	line = strings.TrimLeft(strings.TrimSpace(line), "-*#>0123456789.) ")
	line = strings.ReplaceAll(line, "：", ":")

	label, value, ok := strings.Cut(line, ":")
	if !ok {
		return "", "", false
	}
	label = strings.ToLower(strings.Trim(strings.TrimSpace(label), "*_"))
	value = strings.TrimSpace(strings.Trim(strings.TrimSpace(value), "*_"))
	return label, value, true
}

func splitList(s string) []string {
	s = strings.NewReplacer("，", ",", "、", ",", ";", ",").Replace(s)
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

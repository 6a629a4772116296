// Package report renders successful evaluations into a printable PDF.
package report

import (
	"fmt"
	"sort"
	"strings"

	"github.com/joelkehle/challenge-pipeline/internal/challenge"
)

// Ranked returns the ok evaluations sorted by overall score descending, then
// name, then submission id.
func Ranked(evals []challenge.Evaluation) []challenge.Evaluation {
	out := make([]challenge.Evaluation, 0, len(evals))
	for _, e := range evals {
		if e.OK() {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, _ := out[i].Score(challenge.CriterionOverall)
		b, _ := out[j].Score(challenge.CriterionOverall)
		if a != b {
			return a > b
		}
		if out[i].Name() != out[j].Name() {
			return out[i].Name() < out[j].Name()
		}
		return challenge.CompareIDs(out[i].SubmissionID, out[j].SubmissionID) < 0
	})
	return out
}

func stars(n int) string {
	if n < 0 {
		n = 0
	}
	if n > challenge.MaxScore {
		n = challenge.MaxScore
	}
	return strings.Repeat("★", n) + strings.Repeat("☆", challenge.MaxScore-n)
}

// Markdown renders the report body. Each submission is a level-two heading so
// the print hooks can start it on a new page.
func Markdown(title string, evals []challenge.Evaluation) string {
	var b strings.Builder
	b.WriteString("# " + inline(title) + "\n\n")
	ranked := Ranked(evals)
	if len(ranked) == 0 {
		b.WriteString("_No successful evaluations._\n")
		return b.String()
	}
	for i, e := range ranked {
		writeEntry(&b, i+1, e)
	}
	return b.String()
}

func writeEntry(b *strings.Builder, n int, e challenge.Evaluation) {
	name := e.Name()
	if name == "" {
		name = "Submission " + e.SubmissionID
	}
	fmt.Fprintf(b, "## %d. %s\n\n", n, inline(name))

	if overall, ok := e.Score(challenge.CriterionOverall); ok {
		fmt.Fprintf(b, "### Overall: %s (%d/5)\n\n", stars(overall), overall)
	}

	var email string
	if e.Metadata != nil {
		email = e.Metadata.Email
	}
	fmt.Fprintf(b, "ID: %s | %s | %s\n\n", inline(e.SubmissionID), inline(email), inline(e.Timestamp()))

	if s := strings.TrimSpace(e.RephrasedSubmission); s != "" {
		b.WriteString("### Rephrased Submission\n\n")
		b.WriteString(paragraph(s) + "\n\n")
	}

	b.WriteString("| Category | Score (1-5) |\n|---|---|\n")
	for _, c := range challenge.Criteria {
		score := "n/a"
		if v, ok := e.Score(c); ok {
			score = fmt.Sprint(v)
		}
		fmt.Fprintf(b, "| %s | %s |\n", challenge.CriterionLabel(c), score)
	}
	b.WriteString("\n")

	var bullets []string
	for _, c := range challenge.Criteria {
		if s := strings.TrimSpace(e.Reasoning[c]); s != "" {
			bullets = append(bullets, fmt.Sprintf("- **%s:** %s", challenge.CriterionLabel(c), inline(s)))
		}
	}
	if len(bullets) > 0 {
		b.WriteString("### Reasoning\n\n")
		b.WriteString(strings.Join(bullets, "\n") + "\n\n")
	}

	if s := strings.TrimSpace(e.ImplementationRoadmap); s != "" {
		b.WriteString("### Implementation Roadmap\n\n")
		b.WriteString(paragraph(s) + "\n\n")
	}
}

var inlineEscaper = strings.NewReplacer(
	`\`, `\\`,
	"|", `\|`,
	"*", `\*`,
	"_", `\_`,
	"`", "\\`",
	"#", `\#`,
	"<", "&lt;",
	">", "&gt;",
)

// inline flattens s onto one line and escapes markdown control characters.
func inline(s string) string {
	return inlineEscaper.Replace(strings.Join(strings.Fields(s), " "))
}

// paragraph keeps the line structure of model text as hard breaks.
func paragraph(s string) string {
	lines := strings.Split(strings.ReplaceAll(s, "\r\n", "\n"), "\n")
	out := make([]string, 0, len(lines))
	for _, l := range lines {
		if l = strings.TrimSpace(l); l != "" {
			out = append(out, inlineEscaper.Replace(l))
		}
	}
	return strings.Join(out, "  \n")
}

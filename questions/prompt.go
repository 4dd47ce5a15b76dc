package questions

import (
	"fmt"
	"strings"
)

const (
	// DefaultCount applies when a request omits the question count.
	DefaultCount = 10
	// MaxPromptCount bounds ad-hoc prompt generation.
	MaxPromptCount = 30
	// MaxDocumentCount bounds document-driven generation, where callers
	// legitimately want large banks out of long PDFs.
	MaxDocumentCount = 200

	baseTokenBudget  = 600
	tokensPerItem    = 220
	maxTokenBudget   = 16000
	maxExcerptLength = 12000
)

const systemPrompt = "You are an expert examiner writing multiple-choice questions for competitive exam preparation. " +
	"You respond with a single valid JSON object and nothing else."

const outputFormat = `Respond with ONLY a JSON object in exactly this shape:
{
  "questions": [
    {
      "id": 1,
      "question": "...",
      "options": ["first option", "second option", "third option", "fourth option"],
      "correct_option": "A",
      "explanation": "..."
    }
  ]
}
correct_option is the letter A, B, C or D naming the position of the correct entry in options.
Do not include any text before or after the JSON object.`

// ClampCount bounds a requested question count to what one model call can
// reliably produce. Document-driven runs get a higher ceiling.
func ClampCount(n int, documentDriven bool) int {
	limit := MaxPromptCount
	if documentDriven {
		limit = MaxDocumentCount
	}
	if n < 1 {
		return 1
	}
	if n > limit {
		return limit
	}
	return n
}

// TokenBudget sizes the completion allowance to the clamped question count
// so large batches are not truncated mid-array.
func TokenBudget(count int) int {
	budget := baseTokenBudget + tokensPerItem*count
	if budget > maxTokenBudget {
		return maxTokenBudget
	}
	return budget
}

// BuildPrompt renders the generation prompt. It is a pure function of its
// inputs: the same params and excerpt always yield the same prompt.
func BuildPrompt(p Params, excerpt string) string {
	sb := strings.Builder{}
	fmt.Fprintf(&sb, "Generate exactly %d multiple-choice questions", p.Count)
	if s := strings.TrimSpace(p.Subject); s != "" {
		sb.WriteString(" on ")
		sb.WriteString(s)
	}
	if t := strings.TrimSpace(p.Topic); t != "" {
		sb.WriteString(", focused on ")
		sb.WriteString(t)
	}
	sb.WriteString(".\n\n")

	if e := strings.TrimSpace(excerpt); e != "" {
		if len(e) > maxExcerptLength {
			e = e[:maxExcerptLength]
		}
		sb.WriteString("Base every question strictly on the following source material and nothing else:\n")
		sb.WriteString("--- SOURCE MATERIAL ---\n")
		sb.WriteString(e)
		sb.WriteString("\n--- END SOURCE MATERIAL ---\n\n")
	}

	sb.WriteString("Rules:\n")
	sb.WriteString("1. Each question has exactly four options.\n")
	sb.WriteString("2. Exactly one option is correct.\n")
	sb.WriteString("3. Give a short explanation for the correct answer.\n")
	fmt.Fprintf(&sb, "4. Difficulty: %s.\n", valueOr(p.Difficulty, "medium"))
	fmt.Fprintf(&sb, "5. Language: %s.\n\n", valueOr(p.Language, "English"))
	sb.WriteString(outputFormat)
	return sb.String()
}

func valueOr(s, fallback string) string {
	if v := strings.TrimSpace(s); v != "" {
		return v
	}
	return fallback
}

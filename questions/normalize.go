package questions

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// normalizeEntries turns raw decoded entries into validated Questions.
// Entries that cannot be repaired are dropped with a warning, never
// guessed at. Survivors are renumbered sequentially from 1.
func normalizeEntries(entries []map[string]any) *Batch {
	batch := &Batch{Questions: make([]Question, 0, len(entries))}
	for i, entry := range entries {
		q, err := normalizeEntry(entry)
		if err != nil {
			batch.Warnings = append(batch.Warnings, fmt.Sprintf("question %d dropped: %v", i+1, err))
			continue
		}
		q.ID = len(batch.Questions) + 1
		batch.Questions = append(batch.Questions, q)
	}
	return batch
}

func normalizeEntry(entry map[string]any) (Question, error) {
	text := firstString(entry, "question", "question_text", "questionText", "text")
	if text == "" {
		return Question{}, fmt.Errorf("missing question text")
	}

	opts, flagged, err := extractOptions(entry)
	if err != nil {
		return Question{}, err
	}

	correct := flagged
	if marker := firstString(entry, "correct_option", "correctOption", "correct_answer", "correctAnswer", "answer", "correct"); marker != "" {
		if letter, ok := resolveCorrect(marker, opts); ok {
			correct = letter
		}
	}
	if correct == "" {
		return Question{}, fmt.Errorf("no correct option marked")
	}

	return Question{
		Question:      text,
		OptionA:       opts[0],
		OptionB:       opts[1],
		OptionC:       opts[2],
		OptionD:       opts[3],
		CorrectOption: correct,
		Explanation:   firstString(entry, "explanation", "explanation_text", "explanationText", "reason"),
	}, nil
}

// extractOptions collects the four options from either per-letter keys or
// an options array. When the array carries is_correct flags, the first
// flagged entry's letter is returned alongside.
func extractOptions(entry map[string]any) ([4]string, string, error) {
	var opts [4]string

	keyed := 0
	for i, letter := range optionLetters {
		lc := strings.ToLower(letter)
		if v := firstString(entry, "option_"+lc, "option"+letter, letter, lc); v != "" {
			opts[i] = v
			keyed++
		}
	}
	if keyed == 4 {
		return opts, "", nil
	}
	if keyed > 0 {
		return opts, "", fmt.Errorf("only %d of four options present", keyed)
	}

	rawOpts, ok := entry["options"]
	if !ok {
		rawOpts, ok = entry["choices"]
	}
	if !ok {
		return opts, "", fmt.Errorf("missing options")
	}
	arr, ok := rawOpts.([]any)
	if !ok {
		return opts, "", fmt.Errorf("options is not an array")
	}
	if len(arr) != len(opts) {
		return opts, "", fmt.Errorf("expected four options, got %d", len(arr))
	}

	flagged := ""
	for i, item := range arr {
		switch v := item.(type) {
		case map[string]any:
			opts[i] = firstString(v, "text", "option", "value", "label")
			if flagged == "" && boolValue(v, "is_correct", "isCorrect", "correct") {
				flagged = optionLetters[i]
			}
		default:
			opts[i] = strings.TrimSpace(toStr(item))
		}
		if opts[i] == "" {
			return opts, "", fmt.Errorf("option %s is empty", optionLetters[i])
		}
	}
	return opts, flagged, nil
}

// resolveCorrect maps whatever the model put in its answer field to one of
// the four letters: a bare letter, a 1-based or 0-based index, the exact
// option text, or a "B) text" composite.
func resolveCorrect(marker string, opts [4]string) (string, bool) {
	s := strings.TrimSpace(marker)
	if s == "" {
		return "", false
	}

	if n, err := strconv.Atoi(s); err == nil {
		switch {
		case n >= 1 && n <= 4:
			return optionLetters[n-1], true
		case n == 0:
			return optionLetters[0], true
		}
		return "", false
	}

	if trimmed := strings.Trim(s, "()[].:-"); len(trimmed) == 1 {
		up := strings.ToUpper(trimmed)
		if up >= "A" && up <= "D" {
			return up, true
		}
	}

	for i, o := range opts {
		if strings.EqualFold(strings.TrimSpace(o), s) {
			return optionLetters[i], true
		}
	}

	// Composite like "B) Fundamental Rights": trust the leading letter.
	if len(s) >= 2 {
		up := strings.ToUpper(s[:1])
		if up >= "A" && up <= "D" && strings.ContainsRune(".):-", rune(s[1])) {
			return up, true
		}
	}
	return "", false
}

func firstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			if s := strings.TrimSpace(toStr(v)); s != "" {
				return s
			}
		}
	}
	return ""
}

func boolValue(m map[string]any, keys ...string) bool {
	for _, k := range keys {
		switch v := m[k].(type) {
		case bool:
			return v
		case float64:
			return v != 0
		case string:
			s := strings.ToLower(strings.TrimSpace(v))
			if s == "true" || s == "1" || s == "yes" {
				return true
			}
		}
	}
	return false
}

func toStr(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case int:
		return strconv.Itoa(x)
	case json.Number:
		return x.String()
	default:
		return ""
	}
}

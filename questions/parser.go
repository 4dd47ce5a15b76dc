package questions

import (
	"encoding/json"
	"log"
	"regexp"
	"strings"

	"prepq-backend/metrics"
)

// The parser is a layered fallback chain. Each stage tries to locate and
// decode question entries in the raw model output; the first stage that
// yields at least one candidate wins and normalization filters it. Only
// exhaustion of every stage, or a winning stage whose entries all fail
// validation, reports ErrUnparsable.

type parserStage struct {
	name ParseStage
	fn   func(string) []map[string]any
}

var parserStages = []parserStage{
	{StageStrictJSON, parseStrictJSON},
	{StageFencedBlock, parseFencedBlock},
	{StageEmbeddedObject, parseEmbeddedObject},
	{StageTextBlocks, parseTextBlocks},
}

// Parse runs the fallback chain over one model response.
func Parse(raw string) (*Batch, error) {
	for _, st := range parserStages {
		entries := st.fn(raw)
		if len(entries) == 0 {
			continue
		}
		batch := normalizeEntries(entries)
		batch.Stage = st.name
		for _, w := range batch.Warnings {
			log.Printf("[questions][parse] stage=%s warning=%q", st.name, w)
		}
		if len(batch.Questions) == 0 {
			log.Printf("[questions][parse] stage=%s candidates=%d valid=0", st.name, len(entries))
			return nil, ErrUnparsable
		}
		metrics.ParseStages.WithLabelValues(string(st.name)).Inc()
		return batch, nil
	}
	log.Printf("[questions][parse] exhausted all stages len=%d", len(raw))
	return nil, ErrUnparsable
}

// parseStrictJSON accepts only a response that is a single JSON object
// conforming to the declared batch schema.
func parseStrictJSON(raw string) []map[string]any {
	trimmed := strings.TrimSpace(raw)
	if !strings.HasPrefix(trimmed, "{") {
		return nil
	}
	var doc any
	if err := json.Unmarshal([]byte(trimmed), &doc); err != nil {
		return nil
	}
	schema, err := compileBatchSchema()
	if err != nil {
		return nil
	}
	if err := schema.Validate(doc); err != nil {
		return nil
	}
	return decodeEntries(trimmed)
}

var fenceRe = regexp.MustCompile("(?s)```(?:json)?\\s*(.+?)```")

// parseFencedBlock recovers JSON the model wrapped in a markdown code
// fence despite the JSON-only instruction.
func parseFencedBlock(raw string) []map[string]any {
	for _, m := range fenceRe.FindAllStringSubmatch(raw, -1) {
		if entries := decodeEntries(strings.TrimSpace(m[1])); len(entries) > 0 {
			return entries
		}
	}
	return nil
}

var embeddedRe = regexp.MustCompile(`(?s)\{.*"questions".*\}`)

// parseEmbeddedObject pulls the first object-shaped substring carrying a
// "questions" key out of surrounding prose.
func parseEmbeddedObject(raw string) []map[string]any {
	m := embeddedRe.FindString(raw)
	if m == "" {
		return nil
	}
	return decodeEntries(m)
}

var (
	questionHeadRe = regexp.MustCompile(`(?mi)^\s*(?:\*\*)?(?:question|q)\s*(\d+)\s*[:.)-]\s*`)
	optionLineRe   = regexp.MustCompile(`(?mi)^\s*(?:\*\*)?\(?([A-D])[\).:]\s*(.+)$`)
	answerLineRe   = regexp.MustCompile(`(?mi)^\s*(?:\*\*)?(?:correct\s*answer|answer|correct)\s*(?:\*\*)?\s*[:\-]\s*\(?([A-D])\b`)
	explainLineRe  = regexp.MustCompile(`(?mis)^\s*(?:\*\*)?explanation\s*(?:\*\*)?\s*[:\-]\s*(.+)`)
)

// parseTextBlocks is the last resort for responses with no JSON at all:
// plain text split on "Question N" markers, with option, answer and
// explanation lines matched inside each block. Blocks missing required
// lines surface as dropped entries during normalization.
func parseTextBlocks(raw string) []map[string]any {
	heads := questionHeadRe.FindAllStringSubmatchIndex(raw, -1)
	if len(heads) == 0 {
		return nil
	}
	out := make([]map[string]any, 0, len(heads))
	for i, head := range heads {
		start := head[1]
		end := len(raw)
		if i+1 < len(heads) {
			end = heads[i+1][0]
		}
		block := raw[start:end]
		entry := map[string]any{}

		optMatches := optionLineRe.FindAllStringSubmatchIndex(block, -1)
		qEnd := len(block)
		if len(optMatches) > 0 {
			qEnd = optMatches[0][0]
		}
		if text := strings.TrimSpace(block[:qEnd]); text != "" {
			entry["question"] = text
		}

		for _, om := range optMatches {
			letter := strings.ToLower(block[om[2]:om[3]])
			text := strings.TrimSpace(block[om[4]:om[5]])
			key := "option_" + letter
			if _, seen := entry[key]; !seen && text != "" {
				entry[key] = text
			}
		}
		if am := answerLineRe.FindStringSubmatch(block); am != nil {
			entry["correct_option"] = strings.ToUpper(am[1])
		}
		if em := explainLineRe.FindStringSubmatch(block); em != nil {
			entry["explanation"] = strings.TrimSpace(em[1])
		}
		out = append(out, entry)
	}
	return out
}

// decodeEntries unmarshals an envelope object and keeps only the entries
// that are JSON objects themselves.
func decodeEntries(s string) []map[string]any {
	var env struct {
		Questions []any `json:"questions"`
	}
	if err := json.Unmarshal([]byte(s), &env); err != nil {
		return nil
	}
	out := make([]map[string]any, 0, len(env.Questions))
	for _, item := range env.Questions {
		if m, ok := item.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

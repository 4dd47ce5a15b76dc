package questions

import "errors"

// Question is one validated multiple-choice question. IDs are sequential
// within a batch starting at 1; clients key answers off them.
type Question struct {
	ID            int    `json:"id"`
	Question      string `json:"question"`
	OptionA       string `json:"option_a"`
	OptionB       string `json:"option_b"`
	OptionC       string `json:"option_c"`
	OptionD       string `json:"option_d"`
	CorrectOption string `json:"correct_option"`
	Explanation   string `json:"explanation"`
}

// Params describes what to generate. Count is clamped before prompting.
type Params struct {
	Subject    string `json:"subject"`
	Topic      string `json:"topic"`
	Difficulty string `json:"difficulty"`
	Language   string `json:"language"`
	Count      int    `json:"count"`
}

// ParseStage names the fallback layer that produced a batch. Exposed in
// responses and metrics so prompt regressions show up as stage drift.
type ParseStage string

const (
	StageStrictJSON     ParseStage = "strict_json"
	StageFencedBlock    ParseStage = "fenced_block"
	StageEmbeddedObject ParseStage = "embedded_object"
	StageTextBlocks     ParseStage = "text_blocks"
)

// Batch is the outcome of parsing one model response. Warnings carry one
// line per dropped entry; a batch may hold fewer questions than requested
// but never zero.
type Batch struct {
	Questions []Question `json:"questions"`
	Stage     ParseStage `json:"stage"`
	Warnings  []string   `json:"warnings,omitempty"`
}

// ErrUnparsable means no parser stage could recover a single valid
// question from the response. The invocation failed; nothing from it may
// be persisted.
var ErrUnparsable = errors.New("no questions could be parsed from the model response")

var optionLetters = [...]string{"A", "B", "C", "D"}

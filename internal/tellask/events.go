// Package tellask implements the streaming parser for the line
// oriented delegation grammar models emit: lines prefixed with the
// "!?" sentinel form call segments, everything else is markdown.
package tellask

import "fmt"

// Kind discriminates parser events.
type Kind int

const (
	MarkdownStart Kind = iota
	MarkdownChunk
	MarkdownFinish
	CallStart
	CallHeadChunk
	CallHeadFinish
	CallBodyStart
	CallBodyChunk
	CallBodyFinish
	CallFinish
)

var kindNames = map[Kind]string{
	MarkdownStart:  "markdownStart",
	MarkdownChunk:  "markdownChunk",
	MarkdownFinish: "markdownFinish",
	CallStart:      "callStart",
	CallHeadChunk:  "callHeadLineChunk",
	CallHeadFinish: "callHeadLineFinish",
	CallBodyStart:  "callBodyStart",
	CallBodyChunk:  "callBodyChunk",
	CallBodyFinish: "callBodyFinish",
	CallFinish:     "callFinish",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Validation reasons for a malformed head line.
const (
	ReasonMissingMentionPrefix = "missing_mention_prefix"
	ReasonInvalidMentionID     = "invalid_mention_id"
)

// Validation is the verdict on a call's first head line.
type Validation struct {
	Valid        bool
	Reason       string // set iff !Valid
	FirstMention string // set iff Valid
}

// Event is one parser output. Text is set on chunk events, Validation
// on CallStart, CallID on CallStart and CallFinish.
type Event struct {
	Kind       Kind
	Text       string
	Validation *Validation
	CallID     string
}

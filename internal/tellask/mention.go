package tellask

import "strings"

// HeadFields extracts the first mention and the optional "!topic"
// token that follows it from accumulated head text. The topic token
// turns a teammate call into a resumable topical one.
func HeadFields(head string) (mention, topic string) {
	fields := strings.Fields(head)
	for i, f := range fields {
		if !strings.HasPrefix(f, "@") {
			continue
		}
		id := strings.TrimPrefix(f, "@")
		if id == "" && i+1 < len(fields) {
			// "@ name" split across fields.
			id = fields[i+1]
			i++
		}
		if !ValidMentionID(id) {
			return "", ""
		}
		mention = id
		if i+1 < len(fields) {
			next := fields[i+1]
			if t := strings.TrimPrefix(next, "!"); t != next && ValidMentionID(t) {
				topic = t
			}
		}
		return mention, topic
	}
	return "", ""
}

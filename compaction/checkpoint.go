package compaction

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	checkpointHeaderPrefix = "[Conversation summary - folded "
	checkpointHeaderSuffix = " messages]"
)

// FormatCheckpoint builds checkpoint content: a header line recording how
// many messages were folded, then the summary.
func FormatCheckpoint(folded int, summary string) string {
	return fmt.Sprintf("%s%d%s\n%s", checkpointHeaderPrefix, folded, checkpointHeaderSuffix, summary)
}

// ParseCheckpoint splits checkpoint content produced by FormatCheckpoint.
// ok is false when content has no valid header.
func ParseCheckpoint(content string) (folded int, summary string, ok bool) {
	header, summary, _ := strings.Cut(content, "\n")

	count, found := strings.CutPrefix(header, checkpointHeaderPrefix)
	if !found {
		return 0, "", false
	}
	count, found = strings.CutSuffix(count, checkpointHeaderSuffix)
	if !found {
		return 0, "", false
	}

	n, err := strconv.Atoi(count)
	if err != nil || n < 0 {
		return 0, "", false
	}
	return n, summary, true
}

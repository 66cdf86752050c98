package session

import (
	"encoding/base64"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Results-token format, explicitly versioned so independently deployed
// store implementations produce interchangeable tokens:
//
//	<version> ":" <offset> ":" <sortKey>
//
// base64url-encoded. The sort key is the stable key of the last record on
// the page just served; the next page starts at the first record sorting
// strictly after it. The offset is only used to derive the page number,
// never to position the cursor, so concurrent inserts and deletes cannot
// skip or repeat records beyond the ones actually mutated.
const resultsTokenVersion = 1

// sortKey builds the stable ordering key (display name, then subject,
// then record key). Each field ends with a 0x00 0x00 terminator and any
// 0x00 byte inside a field is escaped as 0x00 0x01, so comparing the
// composite bytes is identical to comparing the fields one by one: "aa"
// sorts before "b", and an id containing the terminator cannot forge an
// ordering position.
func sortKey(s *Session) string {
	var b strings.Builder
	for _, field := range []string{strings.ToLower(s.DisplayName), s.SubjectID, s.Key} {
		b.WriteString(strings.ReplaceAll(field, "\x00", "\x00\x01"))
		b.WriteString("\x00\x00")
	}
	return b.String()
}

func encodeResultsToken(offset int, lastSortKey string) string {
	raw := fmt.Sprintf("%d:%d:%s", resultsTokenVersion, offset, lastSortKey)
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// decodeResultsToken returns the encoded offset and sort key. Malformed
// or stale-version tokens are ignored: the query restarts at page one
// rather than failing.
func decodeResultsToken(token string) (offset int, lastSortKey string, ok bool) {
	if token == "" {
		return 0, "", false
	}
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return 0, "", false
	}
	parts := strings.SplitN(string(raw), ":", 3)
	if len(parts) != 3 {
		return 0, "", false
	}
	version, err := strconv.Atoi(parts[0])
	if err != nil || version != resultsTokenVersion {
		return 0, "", false
	}
	offset, err = strconv.Atoi(parts[1])
	if err != nil || offset < 0 {
		return 0, "", false
	}
	return offset, parts[2], true
}

// paginate applies the shared query semantics to an already-filtered set
// of sessions. Both bundled store implementations funnel through here so
// their tokens and page bookkeeping are structurally identical.
func paginate(matches []Session, q Query) *QueryResult {
	sort.Slice(matches, func(i, j int) bool {
		return sortKey(&matches[i]) < sortKey(&matches[j])
	})

	pageSize := q.PageSize()
	total := len(matches)

	start := 0
	pageOffset := 0
	if tokenOffset, lastKey, ok := decodeResultsToken(q.ResultsToken); ok {
		start = sort.Search(total, func(i int) bool {
			return sortKey(&matches[i]) > lastKey
		})
		pageOffset = tokenOffset
	}

	end := start + pageSize
	if end > total {
		end = total
	}

	result := &QueryResult{
		Results:        append([]Session(nil), matches[start:end]...),
		TotalCount:     total,
		TotalPages:     (total + pageSize - 1) / pageSize,
		CurrentPage:    pageOffset/pageSize + 1,
		HasPrevResults: start > 0,
		HasNextResults: end < total,
	}
	if result.TotalPages == 0 {
		result.TotalPages = 1
	}
	if result.CurrentPage > result.TotalPages {
		result.CurrentPage = result.TotalPages
	}
	if result.HasNextResults {
		result.ResultsToken = encodeResultsToken(pageOffset+pageSize, sortKey(&matches[end-1]))
	}
	return result
}

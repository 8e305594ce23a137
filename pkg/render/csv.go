package render

import (
	"bytes"
	"strings"

	"github.com/Mundokiir/email-reports/pkg/common"
)

// CSV renders the header and one line per document. Every field is
// double-quoted, embedded quotes are doubled, and every line ends in "\n".
func CSV(columns []string, docs []common.Document) []byte {
	var buf bytes.Buffer
	writeCSVLine(&buf, columns)
	for _, doc := range docs {
		writeCSVLine(&buf, doc.Values(columns))
	}
	return buf.Bytes()
}

func writeCSVLine(buf *bytes.Buffer, fields []string) {
	for i, f := range fields {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.WriteByte('"')
		buf.WriteString(strings.ReplaceAll(f, `"`, `""`))
		buf.WriteByte('"')
	}
	buf.WriteByte('\n')
}

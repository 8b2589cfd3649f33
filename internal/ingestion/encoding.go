package ingestion

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/transform"
)

var byteOrderMark = []byte{0xEF, 0xBB, 0xBF}

var encodings = map[string]encoding.Encoding{
	"latin1":       charmap.ISO8859_1,
	"iso-8859-1":   charmap.ISO8859_1,
	"iso8859-1":    charmap.ISO8859_1,
	"windows-1252": charmap.Windows1252,
	"cp1252":       charmap.Windows1252,
	"cp037":        charmap.CodePage037,
	"ibm037":       charmap.CodePage037,
	"ebcdic":       charmap.CodePage037,
}

// DecodingReader converts input in the named character set to UTF-8. UTF-8
// input only has its byte order mark removed.
func DecodingReader(r io.Reader, name string) (io.Reader, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	switch key {
	case "", "utf-8", "utf8":
		buffered := bufio.NewReader(r)
		if prefix, err := buffered.Peek(len(byteOrderMark)); err == nil && bytes.Equal(prefix, byteOrderMark) {
			_, _ = buffered.Discard(len(byteOrderMark))
		}
		return buffered, nil
	}

	enc, ok := encodings[key]
	if !ok {
		return nil, fmt.Errorf("unsupported input encoding %q", name)
	}
	return transform.NewReader(r, enc.NewDecoder()), nil
}

// nextLine is the EBCDIC NEL control character after decoding.
const nextLine = '\u0085'

// scanRecordLines splits on LF or NEL so decoded EBCDIC files break into
// records the same way ASCII exports do. A trailing CR is dropped.
func scanRecordLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	for i := 0; i < len(data); {
		r, size := utf8.DecodeRune(data[i:])
		if r == '\n' || r == nextLine {
			return i + size, bytes.TrimSuffix(data[:i], []byte{'\r'}), nil
		}
		i += size
	}
	if atEOF {
		return len(data), bytes.TrimSuffix(data, []byte{'\r'}), nil
	}
	return 0, nil, nil
}

package base

import (
	"bufio"
	"fmt"
	"strings"
)

const (
	maxHeaderCount = 255
	maxHeaderLine  = 4096
)

// ReadHeaders reads a folded RTSP header block (terminated by an empty
// line) from rb into a fresh HeaderStore. It unfolds continuation lines
// that begin with a space or tab.
func ReadHeaders(rb *bufio.Reader) (*HeaderStore, error) {
	h := NewHeaderStore()

	var pendingName string
	var pendingValue strings.Builder
	haveEntry := false

	flush := func() {
		if haveEntry {
			h.Add(pendingName, pendingValue.String())
			haveEntry = false
			pendingValue.Reset()
		}
	}

	for {
		line, err := readCRLFLine(rb, maxHeaderLine)
		if err != nil {
			return nil, err
		}

		if line == "" {
			flush()
			return h, nil
		}

		if line[0] == ' ' || line[0] == '\t' {
			if !haveEntry {
				return nil, fmt.Errorf("base: unexpected header continuation line")
			}
			pendingValue.WriteByte(' ')
			pendingValue.WriteString(strings.TrimSpace(line))
			continue
		}

		flush()

		if h.Len() >= maxHeaderCount {
			return nil, fmt.Errorf("base: header count exceeds %d", maxHeaderCount)
		}

		idx := strings.IndexByte(line, ':')
		if idx < 0 {
			return nil, fmt.Errorf("base: malformed header line %q", line)
		}

		pendingName = line[:idx]
		value := line[idx+1:]
		if len(value) > 0 && value[0] == ' ' {
			value = value[1:]
		}
		pendingValue.WriteString(value)
		haveEntry = true
	}
}

// readCRLFLine reads one line terminated by "\r\n" (the CRLF is consumed
// but not included in the returned string), up to a maximum length.
func readCRLFLine(rb *bufio.Reader, maxLen int) (string, error) {
	var b strings.Builder
	for {
		chunk, err := rb.ReadString('\n')
		b.WriteString(chunk)
		if err != nil {
			return "", err
		}
		if strings.HasSuffix(chunk, "\r\n") {
			break
		}
		if b.Len() > maxLen {
			return "", fmt.Errorf("base: header line exceeds %d bytes", maxLen)
		}
	}
	s := b.String()
	return s[:len(s)-2], nil
}

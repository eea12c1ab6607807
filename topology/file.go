package topology

import (
	"bufio"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"ktkr.us/pkg/mdmeta"
)

// A prmtop file is a sequence of %FLAG sections, each announcing a Fortran
// format like (20a4) or (5E16.8) followed by fixed-width data lines with no
// delimiters.

var formatRe = regexp.MustCompile(`\(\s*(\d+)\s*([aiefAIEF])\s*(\d+)(?:\.(\d+))?\s*\)`)

type format struct {
	count int
	kind  byte // 'A', 'I', 'E', 'F'
	width int
}

func parseFormat(s string) (format, error) {
	m := formatRe.FindStringSubmatch(s)
	if m == nil {
		return format{}, errors.Errorf("unsupported format %q", strings.TrimSpace(s))
	}
	count, _ := strconv.Atoi(m[1])
	width, _ := strconv.Atoi(m[3])
	return format{count: count, kind: strings.ToUpper(m[2])[0], width: width}, nil
}

// file holds the sections of interest sliced into typed values. A nil cell
// marks a chunk that could not be parsed (empty, truncated, or *-filled
// overflow).
type file struct {
	version  string
	sections map[string][]any
	warnings []string
}

// readFile scans a prmtop line by line. When target is non-nil, sections
// outside it are discarded without slicing to keep memory bounded.
func readFile(path string, target map[string]bool) (*file, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "topology: open %s", path)
	}
	defer f.Close()

	pf := &file{sections: map[string][]any{}}

	var (
		flag string
		ff format
		ok   bool
		buf  []string
	)

	flush := func() {
		if flag == "" || !ok {
			flag, buf = "", nil
			return
		}
		if target != nil && !target[flag] {
			flag, buf = "", nil
			return
		}
		var vals []any
		for _, line := range buf {
			for k := 0; k < ff.count; k++ {
				start := k * ff.width
				if start >= len(line) {
					break
				}
				end := start + ff.width
				if end > len(line) {
					end = len(line)
				}
				vals = append(vals, convertField(line[start:end], ff.kind))
			}
		}
		pf.sections[flag] = vals
		flag, buf = "", nil
	}

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, "%VERSION"):
			if _, after, found := strings.Cut(line, "="); found {
				if fields := strings.Fields(after); len(fields) > 0 {
					pf.version = fields[0]
				}
			}

		case strings.HasPrefix(line, "%FLAG"):
			flush()
			if fields := strings.Fields(line); len(fields) >= 2 {
				flag = fields[1]
			}
			ok = false

		case strings.HasPrefix(line, "%FORMAT"):
			_, after, _ := strings.Cut(line, "FORMAT")
			var ferr error
			ff, ferr = parseFormat(after)
			if ferr != nil {
				if flag != "" && (target == nil || target[flag]) {
					pf.warnings = append(pf.warnings, "section "+flag+" dropped: "+ferr.Error())
				}
				flag = ""
				ok = false
			} else {
				ok = true
			}
			buf = nil

		case strings.HasPrefix(line, "%COMMENT"):
			// allowed inside data blocks

		default:
			if flag != "" {
				buf = append(buf, line)
			}
		}
	}
	if err := sc.Err(); err != nil {
		return nil, errors.Wrapf(err, "topology: read %s", path)
	}
	flush()

	return pf, nil
}

// convertField decodes one fixed-width chunk. A-kind keeps the substring
// with trailing whitespace stripped; numeric kinds return nil for anything
// unparseable.
func convertField(chunk string, kind byte) any {
	if kind == 'A' {
		return strings.TrimRight(chunk, " \t")
	}
	tok := strings.TrimSpace(chunk)
	if tok == "" {
		return nil
	}
	switch kind {
	case 'I':
		n, err := strconv.Atoi(tok)
		if err != nil {
			return nil
		}
		return n
	case 'E', 'F':
		v, err := mdmeta.ParseFortranFloat(tok)
		if err != nil {
			return nil
		}
		return v
	}
	return nil
}

func (pf *file) ints(flag string) []int {
	var out []int
	for _, v := range pf.sections[flag] {
		if n, ok := v.(int); ok {
			out = append(out, n)
		} else {
			out = append(out, 0)
		}
	}
	return out
}

func (pf *file) floatSum(flag string) (sum float64, n int) {
	for _, v := range pf.sections[flag] {
		if f, ok := v.(float64); ok {
			sum += f
			n++
		}
	}
	return sum, n
}

// joined concatenates the string cells of an A-format section.
func (pf *file) joined(flag string) string {
	var b strings.Builder
	for _, v := range pf.sections[flag] {
		if s, ok := v.(string); ok {
			b.WriteString(s)
		}
	}
	return strings.TrimSpace(b.String())
}

func (pf *file) has(flag string) bool {
	_, ok := pf.sections[flag]
	return ok
}

package review

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

// FenceMarker tags the fenced block reviewers are asked to put their verdict in:
//
//	```review-result
//	{"passed": true, "findings": [], "mustFix": [], "summary": "ok"}
//	```
const FenceMarker = "review-result"

var errMissingPassed = errors.New(`structured output has no boolean "passed" field`)

// Parse extracts a verdict from raw reviewer output. It never panics and never
// guesses: when no structured verdict can be decoded the result is
// inconclusive with a description of what went wrong.
func Parse(raw string) (result Result) {
	defer func() {
		if r := recover(); r != nil {
			result = inconclusive(raw, fmt.Sprintf("parser failure: %v", r))
		}
	}()

	text := unwrapEnvelope(raw)

	var problems []string
	if block, ok := fencedBlock(text); ok {
		f, err := decode(block)
		if err == nil {
			return verdict(raw, f)
		}
		if errors.Is(err, errMissingPassed) {
			return inconclusive(raw, err.Error())
		}
		problems = append(problems, fmt.Sprintf("%s block: %v", FenceMarker, err))
	}

	if obj, ok := lastObject(text); ok {
		f, err := decode(obj)
		if err == nil {
			return verdict(raw, f)
		}
		return inconclusive(raw, err.Error())
	}

	problems = append(problems, "no structured object found in output")
	return inconclusive(raw, strings.Join(problems, "; "))
}

func verdict(raw string, f *Findings) Result {
	v := VerdictFail
	if f.Passed {
		v = VerdictPass
	}
	return Result{Verdict: v, Findings: f, RawText: raw}
}

func inconclusive(raw, reason string) Result {
	return Result{Verdict: VerdictInconclusive, RawText: raw, ParseError: reason}
}

// unwrapEnvelope strips the claude CLI result wrapper when the raw output is
// the JSON envelope rather than the assistant text.
func unwrapEnvelope(raw string) string {
	var envelope struct {
		Type   string `json:"type"`
		Result string `json:"result"`
	}
	trimmed := strings.TrimSpace(raw)
	if !strings.HasPrefix(trimmed, "{") {
		return raw
	}
	if err := json.Unmarshal([]byte(trimmed), &envelope); err == nil && envelope.Type == "result" && envelope.Result != "" {
		return envelope.Result
	}
	return raw
}

// fencedBlock returns the object inside the last fence tagged FenceMarker.
// The object is delimited by brace matching rather than by the closing fence,
// so fences quoted inside string values cannot end the block early.
func fencedBlock(text string) (string, bool) {
	found := ""
	ok := false
	rest := text
	offset := 0
	for {
		idx := strings.Index(rest, "```")
		if idx < 0 {
			break
		}
		start := offset + idx
		lineEnd := strings.IndexByte(text[start:], '\n')
		if lineEnd < 0 {
			break
		}
		info := strings.TrimSpace(text[start+3 : start+lineEnd])
		bodyStart := start + lineEnd + 1
		if isMarker(info) && atLineStart(text, start) {
			if obj, end, matched := firstObject(text, bodyStart); matched {
				found, ok = obj, true
				offset = end + 1
				rest = text[offset:]
				continue
			}
		}
		offset = bodyStart
		rest = text[offset:]
	}
	return found, ok
}

func isMarker(info string) bool {
	fields := strings.Fields(info)
	return len(fields) > 0 && strings.EqualFold(fields[0], FenceMarker)
}

func atLineStart(text string, pos int) bool {
	for i := pos - 1; i >= 0; i-- {
		switch text[i] {
		case ' ', '\t':
			continue
		case '\n':
			return true
		default:
			return false
		}
	}
	return true
}

// firstObject finds the first '{' at or after from (skipping only whitespace)
// and returns the balanced object starting there.
func firstObject(text string, from int) (string, int, bool) {
	i := from
	for i < len(text) && strings.ContainsRune(" \t\r\n", rune(text[i])) {
		i++
	}
	if i >= len(text) || text[i] != '{' {
		return "", 0, false
	}
	end, ok := matchObject(text, i)
	if !ok {
		return "", 0, false
	}
	return text[i : end+1], end, true
}

// lastObject returns the last top-level object that is valid JSON. Objects
// carrying a boolean "passed" beat those that do not, and objects outside code
// fences beat fenced ones, so example snippets after a verdict cannot replace
// it.
func lastObject(text string) (string, bool) {
	found := ""
	rank := -1
	for _, c := range scanObjects(text) {
		clean := sanitize(c.text)
		if !gjson.Valid(clean) {
			continue
		}
		r := 0
		if v := gjson.Get(clean, "passed"); v.Type == gjson.True || v.Type == gjson.False {
			r += 2
		}
		if !c.fenced {
			r++
		}
		if r >= rank {
			found, rank = c.text, r
		}
	}
	return found, rank >= 0
}

type candidate struct {
	text   string
	fenced bool
}

type span struct{ start, end int }

// scanObjects returns the outermost balanced objects in text, in a single
// pass. An object nested in a balanced outer one is never returned on its own,
// even when the outer one is not valid JSON. Braces inside string literals are
// ignored and so is a brace quoted in prose. Each code fence is scanned on its
// own so unbalanced code cannot swallow the text after it.
func scanObjects(text string) []candidate {
	var (
		found    []candidate
		pending  []span
		open     []int
		inString bool
		escaped  bool
		fenced   bool
	)
	flush := func() {
		for _, s := range pending {
			found = append(found, candidate{text: text[s.start : s.end+1], fenced: fenced})
		}
		pending = pending[:0]
	}

	for i := 0; i < len(text); i++ {
		c := text[i]
		if c == '`' && (fenced || len(open) == 0) && strings.HasPrefix(text[i:], "```") && atLineStart(text, i) {
			flush()
			open = open[:0]
			inString, escaped = false, false
			fenced = !fenced
			nl := strings.IndexByte(text[i:], '\n')
			if nl < 0 {
				break
			}
			i += nl
			continue
		}
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = len(open) > 0
		case '{':
			if len(open) == 0 && i > 0 && strings.IndexByte("\"'`", text[i-1]) >= 0 {
				continue
			}
			open = append(open, i)
		case '}':
			if len(open) == 0 {
				continue
			}
			start := open[len(open)-1]
			open = open[:len(open)-1]
			for len(pending) > 0 && pending[len(pending)-1].start > start {
				pending = pending[:len(pending)-1]
			}
			pending = append(pending, span{start, i})
		}
	}
	flush()
	return found
}

// matchObject returns the index of the brace closing the object that opens at
// start. Braces inside string literals are ignored and escapes are honoured.
func matchObject(text string, start int) (int, bool) {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i, true
			}
		}
	}
	return 0, false
}

// sanitize escapes raw control characters that appear inside string values.
// Sequences that are already escaped pass through untouched.
func sanitize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !inString {
			if c == '"' {
				inString = true
			}
			b.WriteByte(c)
			continue
		}
		if escaped {
			escaped = false
			switch c {
			case '\n':
				b.WriteByte('n')
			case '\r':
				b.WriteByte('r')
			case '\t':
				b.WriteByte('t')
			default:
				b.WriteByte(c)
			}
			continue
		}
		switch c {
		case '\\':
			escaped = true
			b.WriteByte(c)
		case '"':
			inString = false
			b.WriteByte(c)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// decode validates a candidate object and applies tolerant defaults.
func decode(candidate string) (*Findings, error) {
	clean := sanitize(candidate)
	if !gjson.Valid(clean) {
		return nil, errors.New("structured output is not valid JSON")
	}
	root := gjson.Parse(clean)
	if !root.IsObject() {
		return nil, errors.New("structured output is not an object")
	}

	passed := root.Get("passed")
	if passed.Type != gjson.True && passed.Type != gjson.False {
		return nil, errMissingPassed
	}

	f := &Findings{
		Passed:   passed.Bool(),
		Findings: []Finding{},
		MustFix:  []string{},
		Summary:  root.Get("summary").String(),
	}

	for _, item := range root.Get("findings").Array() {
		if !item.IsObject() {
			continue
		}
		f.Findings = append(f.Findings, decodeFinding(item))
	}

	mustFix := root.Get("mustFix")
	if !mustFix.Exists() {
		mustFix = root.Get("must_fix")
	}
	for _, ref := range mustFix.Array() {
		if s := strings.TrimSpace(ref.String()); s != "" {
			f.MustFix = append(f.MustFix, s)
		}
	}

	return f, nil
}

func decodeFinding(item gjson.Result) Finding {
	finding := Finding{
		Severity:   ParseSeverity(item.Get("severity").String()),
		File:       strings.TrimSpace(item.Get("file").String()),
		Issue:      firstString(item, "issue", "description", "message"),
		Suggestion: firstString(item, "suggestion", "fix"),
	}
	if finding.File == "" {
		finding.File = "unknown"
	}
	if line, ok := decodeLine(item.Get("line")); ok {
		finding.Line = &line
	}
	return finding
}

func decodeLine(v gjson.Result) (int, bool) {
	switch v.Type {
	case gjson.Number:
		n := int(v.Int())
		return n, n > 0
	case gjson.String:
		n, err := strconv.Atoi(strings.TrimSpace(v.Str))
		return n, err == nil && n > 0
	default:
		return 0, false
	}
}

func firstString(item gjson.Result, keys ...string) string {
	for _, k := range keys {
		if s := strings.TrimSpace(item.Get(k).String()); s != "" {
			return s
		}
	}
	return ""
}

func normalizeToken(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

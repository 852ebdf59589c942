// Package transcript turns raw call text into ordered speaker turns.
package transcript

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/MikeSquared-Agency/dealintel/internal/apperr"
)

type Role string

const (
	RoleRep      Role = "rep"
	RoleProspect Role = "prospect"
)

func (r Role) other() Role {
	if r == RoleRep {
		return RoleProspect
	}
	return RoleRep
}

// Turn is one contiguous stretch of speech by a single side of the call.
// Timestamp is the turn's start as a fraction of the call in [0,1). It comes
// from the transcript's [mm:ss] markers when every turn carries one, and
// from the turn's position in the call's words otherwise.
type Turn struct {
	Index     int     `json:"index"`
	Role      Role    `json:"role"`
	Text      string  `json:"text"`
	Timestamp float64 `json:"timestamp"`
	WordCount int     `json:"word_count"`
	Inferred  bool    `json:"inferred,omitempty"`
}

const DefaultMaxLength = 50000

// secondsPerWord estimates how long the last marked turn runs, so the final
// turn still starts before the end of the call.
const secondsPerWord = 0.4

var (
	timestampPrefix = regexp.MustCompile(`^\[?(?:(\d{1,2}):)?(\d{1,2}):(\d{2})\]?\s*[-–]?\s*`)
	speakerLine     = regexp.MustCompile(`^([A-Za-z][A-Za-z.' -]{0,39}?)\s*(?:\(([^)]{1,40})\))?\s*:\s*(.*)$`)
	sentenceSplit   = regexp.MustCompile(`[^.!?]+(?:[.!?]+|$)`)
	pauseCue        = regexp.MustCompile(`(\.\.\.|--|…)\s*$`)
)

var repLabels = map[string]bool{
	"rep": true, "sales": true, "salesperson": true, "sales rep": true, "agent": true,
	"seller": true, "ae": true, "sdr": true, "account executive": true, "me": true,
}

var prospectLabels = map[string]bool{
	"prospect": true, "customer": true, "client": true, "buyer": true, "lead": true, "them": true,
}

type Normalizer struct {
	MaxLength int
}

func NewNormalizer(maxLength int) *Normalizer {
	if maxLength <= 0 {
		maxLength = DefaultMaxLength
	}
	return &Normalizer{MaxLength: maxLength}
}

type rawTurn struct {
	role     Role
	parts    []string
	inferred bool
	at       float64
	marked   bool
}

// Normalize splits raw into turns. Speaker labels are used when present;
// otherwise a sentence heuristic guesses who is talking, which is
// best-effort and marks every turn Inferred.
func (n *Normalizer) Normalize(raw string) ([]Turn, error) {
	max := n.MaxLength
	if max <= 0 {
		max = DefaultMaxLength
	}
	if l := utf8.RuneCountInString(raw); l > max {
		return nil, apperr.Validation("transcript is %d characters, limit is %d", l, max)
	}

	text := strings.ReplaceAll(raw, "\r\n", "\n")
	turns := splitLabeled(text)
	if turns == nil {
		turns = splitHeuristic(text)
	}

	out := finalize(turns)
	if len(out) == 0 {
		return nil, apperr.Validation("transcript contains no recognizable speaker turns")
	}
	return out, nil
}

// splitLabeled returns nil when no line carries a recognizable speaker label.
func splitLabeled(text string) []rawTurn {
	var (
		turns   []rawTurn
		labeled int
		names   = map[string]Role{}
	)
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		at, marked := markerSeconds(line)
		line = strings.TrimSpace(timestampPrefix.ReplaceAllString(line, ""))
		if line == "" {
			continue
		}
		if role, body, ok := parseSpeaker(line, names); ok {
			labeled++
			if len(turns) > 0 && turns[len(turns)-1].role == role {
				turns[len(turns)-1].parts = append(turns[len(turns)-1].parts, body)
				continue
			}
			turns = append(turns, rawTurn{role: role, parts: []string{body}, at: at, marked: marked})
			continue
		}
		// Continuation lines belong to the current speaker. Preamble before
		// the first label is dropped.
		if len(turns) > 0 {
			turns[len(turns)-1].parts = append(turns[len(turns)-1].parts, line)
		}
	}
	if labeled == 0 {
		return nil
	}
	return turns
}

// markerSeconds reads a leading [mm:ss] or [hh:mm:ss] marker.
func markerSeconds(line string) (float64, bool) {
	m := timestampPrefix.FindStringSubmatch(line)
	if m == nil {
		return 0, false
	}
	h := 0
	if m[1] != "" {
		h, _ = strconv.Atoi(m[1])
	}
	mins, _ := strconv.Atoi(m[2])
	sec, _ := strconv.Atoi(m[3])
	return float64(h*3600 + mins*60 + sec), true
}

func parseSpeaker(line string, names map[string]Role) (Role, string, bool) {
	m := speakerLine.FindStringSubmatch(line)
	if m == nil {
		return "", "", false
	}
	label := strings.ToLower(strings.TrimSpace(m[1]))
	qualifier := strings.ToLower(strings.TrimSpace(m[2]))
	body := strings.TrimSpace(m[3])

	if role, ok := labelRole(qualifier); ok {
		return role, body, true
	}
	if role, ok := labelRole(label); ok {
		return role, body, true
	}
	if !looksLikeName(m[1]) {
		return "", "", false
	}
	// Unrecognized names: the first distinct speaker is taken to be the rep.
	if role, ok := names[label]; ok {
		return role, body, true
	}
	role := RoleProspect
	if len(names) == 0 {
		role = RoleRep
	}
	names[label] = role
	return role, body, true
}

func labelRole(label string) (Role, bool) {
	if label == "" {
		return "", false
	}
	if repLabels[label] {
		return RoleRep, true
	}
	if prospectLabels[label] {
		return RoleProspect, true
	}
	return "", false
}

func looksLikeName(label string) bool {
	words := strings.Fields(label)
	if len(words) == 0 || len(words) > 3 {
		return false
	}
	for _, w := range words {
		r, _ := utf8.DecodeRuneInString(w)
		if !unicode.IsUpper(r) {
			return false
		}
	}
	return true
}

// splitHeuristic alternates speakers at questions, pause cues and paragraph
// breaks, starting with the rep.
func splitHeuristic(text string) []rawTurn {
	var turns []rawTurn
	role := RoleRep
	var current []string

	flush := func() {
		if len(current) == 0 {
			return
		}
		turns = append(turns, rawTurn{role: role, parts: current, inferred: true})
		current = nil
		role = role.other()
	}

	for _, para := range strings.Split(text, "\n\n") {
		para = strings.Join(strings.Fields(para), " ")
		for _, sentence := range sentenceSplit.FindAllString(para, -1) {
			sentence = strings.TrimSpace(sentence)
			if sentence == "" {
				continue
			}
			current = append(current, sentence)
			if strings.HasSuffix(sentence, "?") || pauseCue.MatchString(sentence) {
				flush()
			}
		}
		flush()
	}
	return turns
}

func finalize(raw []rawTurn) []Turn {
	var (
		out       []Turn
		at        []float64
		allMarked = true
	)
	for _, rt := range raw {
		text := strings.Join(strings.Fields(strings.Join(rt.parts, " ")), " ")
		wc := len(Tokens(text))
		if wc == 0 {
			continue
		}
		if len(out) > 0 && out[len(out)-1].Role == rt.role {
			prev := &out[len(out)-1]
			prev.Text += " " + text
			prev.WordCount += wc
			continue
		}
		out = append(out, Turn{Role: rt.role, Text: text, WordCount: wc, Inferred: rt.inferred})
		at = append(at, rt.at)
		allMarked = allMarked && rt.marked
	}

	for i := range out {
		out[i].Index = i
	}
	if allMarked && len(out) > 0 && strictlyIncreasing(at) {
		last := len(out) - 1
		end := at[last] + float64(out[last].WordCount)*secondsPerWord
		for i := range out {
			out[i].Timestamp = at[i] / end
		}
		return out
	}

	total := 0
	for _, t := range out {
		total += t.WordCount
	}
	seen := 0
	for i := range out {
		out[i].Timestamp = float64(seen) / float64(total)
		seen += out[i].WordCount
	}
	return out
}

func strictlyIncreasing(v []float64) bool {
	for i := 1; i < len(v); i++ {
		if v[i] <= v[i-1] {
			return false
		}
	}
	return true
}

var tokenPattern = regexp.MustCompile(`[\p{L}\p{N}][\p{L}\p{N}'’$%.,-]*`)

// Tokens returns the lower-cased words of text with trailing punctuation
// removed.
func Tokens(text string) []string {
	raw := tokenPattern.FindAllString(strings.ToLower(text), -1)
	out := raw[:0]
	for _, tok := range raw {
		tok = strings.ReplaceAll(tok, "’", "'")
		tok = strings.TrimRight(tok, ".,-'")
		if tok != "" {
			out = append(out, tok)
		}
	}
	return out
}

// Padded returns text's tokens joined by single spaces with a space on each
// end, so whole-phrase matching is a substring check.
func Padded(text string) string {
	return " " + strings.Join(Tokens(text), " ") + " "
}

// Text is the canonical rendering of turns used for fingerprinting.
func Text(turns []Turn) string {
	var b strings.Builder
	for _, t := range turns {
		b.WriteString(string(t.Role))
		b.WriteString(": ")
		b.WriteString(t.Text)
		b.WriteByte('\n')
	}
	return b.String()
}

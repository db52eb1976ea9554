package router

import (
	"math/rand/v2"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
)

var ridSeq atomic.Uint64

// newReqID is short and sortable: base36 time, sequence, two random chars.
func newReqID() string {
	const alpha = "abcdefghijklmnopqrstuvwxyz0123456789"
	n := ridSeq.Add(1)
	suffix := []byte{alpha[rand.IntN(len(alpha))], alpha[rand.IntN(len(alpha))]}
	return strconv.FormatInt(time.Now().UnixNano(), 36) + "-" + strconv.FormatUint(n, 36) + string(suffix)
}

// tokenizeCommandLine splits command text on whitespace. Single or double
// quotes group words and a backslash escapes the next byte:
//
//	/event create "Board games" --start "2030-01-07 18:00"
//
// Telegram clients often turn quotes into typographic ones; those count too.
func tokenizeCommandLine(s string) []string {
	s = strings.TrimSpace(normalizeQuotes(s))
	if s == "" {
		return nil
	}
	var (
		out   []string
		buf   strings.Builder
		inQ   bool
		quote byte
		esc   bool
		// an explicit "" still yields an (empty) token
		started bool
	)
	flush := func() {
		if buf.Len() > 0 || started {
			out = append(out, buf.String())
			buf.Reset()
		}
		started = false
	}
	for i := 0; i < len(s); i++ {
		ch := s[i]
		switch {
		case esc:
			buf.WriteByte(ch)
			esc = false
		case ch == '\\':
			esc = true
		case inQ:
			if ch == quote {
				inQ = false
				continue
			}
			buf.WriteByte(ch)
		case ch == '"' || ch == '\'':
			inQ, quote, started = true, ch, true
		case ch == ' ' || ch == '\t' || ch == '\n' || ch == '\r':
			flush()
		default:
			buf.WriteByte(ch)
		}
	}
	flush()
	return out
}

var quoteReplacer = strings.NewReplacer("“", `"`, "”", `"`, "„", `"`, "‘", "'", "’", "'")

func normalizeQuotes(s string) string { return quoteReplacer.Replace(s) }

// parseFlags splits args into positionals, valued flags and bare bool flags.
//
//	--k=v, --k v, --flag
//	-k=v, -k v, -abc (bools a, b, c)
//
// A value may itself start with "-" only in the --k=v form.
func parseFlags(args []string) (pos []string, flags map[string]string, bools map[string]bool) {
	flags = map[string]string{}
	bools = map[string]bool{}
	isFlag := func(s string) bool { return len(s) > 1 && s[0] == '-' && !isNumber(s) }

	for i := 0; i < len(args); i++ {
		a := args[i]
		if !isFlag(a) {
			pos = append(pos, a)
			continue
		}
		long := strings.HasPrefix(a, "--")
		key := strings.TrimLeft(a, "-")
		if key == "" {
			pos = append(pos, a)
			continue
		}
		if eq := strings.IndexByte(key, '='); eq >= 0 {
			flags[strings.ToLower(key[:eq])] = key[eq+1:]
			continue
		}
		key = strings.ToLower(key)
		if long || len(key) == 1 {
			if i+1 < len(args) && !isFlag(args[i+1]) {
				flags[key] = args[i+1]
				i++
				continue
			}
			bools[key] = true
			continue
		}
		for j := 0; j < len(key); j++ {
			bools[string(key[j])] = true
		}
	}
	return pos, flags, bools
}

func isNumber(s string) bool {
	_, err := strconv.ParseFloat(s, 64)
	return err == nil
}

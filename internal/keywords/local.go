package keywords

import (
	"context"
	"regexp"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

var reToken = regexp.MustCompile(`[\p{L}\p{N}+#.]{2,}`)

var stopWords = NewKeySet(
	"a", "an", "and", "are", "as", "at", "be", "but", "by", "can", "do", "for", "from", "how", "i", "if",
	"in", "into", "is", "it's", "its", "me", "my", "new", "no", "not", "of", "on", "or", "our", "so",
	"that", "the", "this", "to", "up", "us", "vs", "was", "we", "what", "when", "why", "will", "with",
	"you", "your", "all", "about", "more", "just", "get", "has", "have", "here", "now", "out", "part",
	"video", "videos", "youtube", "shorts", "short", "today", "news", "live", "episode", "ep", "full",
	"channel", "subscribe", "official",
	"영상", "채널", "오늘", "뉴스", "라이브", "구독", "이번", "진짜", "그리고",
)

// Local is the deterministic keyword heuristic: tokenize, drop stop words, rank by frequency,
// then by length, then by first occurrence, and keep the top N.
type Local struct {
	n int
}

// NewLocal returns the heuristic extractor keeping at most n keywords.
func NewLocal(n int) *Local {
	if n <= 0 {
		n = 5
	}
	return &Local{n: n}
}

type candidate struct {
	token string
	count int
	first int
}

// Extract never fails.
func (l *Local) Extract(_ context.Context, title, description string) ([]string, error) {
	return l.extract(title + "\n" + description), nil
}

func (l *Local) extract(text string) []string {
	byToken := map[string]*candidate{}
	var order []*candidate
	for i, raw := range reToken.FindAllString(strings.ToLower(text), -1) {
		tok := strings.Trim(raw, ".")
		if utf8.RuneCountInString(tok) < 2 || stopWords.Has(tok) || !hasLetter(tok) {
			continue
		}
		if c, ok := byToken[tok]; ok {
			c.count++
			continue
		}
		c := &candidate{token: tok, count: 1, first: i}
		byToken[tok] = c
		order = append(order, c)
	}

	sort.SliceStable(order, func(i, j int) bool {
		a, b := order[i], order[j]
		if a.count != b.count {
			return a.count > b.count
		}
		la, lb := utf8.RuneCountInString(a.token), utf8.RuneCountInString(b.token)
		if la != lb {
			return la > lb
		}
		return a.first < b.first
	})

	out := make([]string, 0, l.n)
	for _, c := range order {
		if len(out) == l.n {
			break
		}
		out = append(out, c.token)
	}
	return out
}

func hasLetter(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) {
			return true
		}
	}
	return false
}

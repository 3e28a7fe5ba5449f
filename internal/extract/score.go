package extract

import (
	"strings"

	"github.com/JakeFAU/newsharvest/internal/crawler"
)

// ScoreInput are the signals the quality score is computed from.
type ScoreInput struct {
	WordCount  int
	CharCount  int
	Paragraphs int
	HasTitle   bool
	HasAuthor  bool
	HasDate    bool
}

// Score is the single content quality function, used both to pick among
// extraction candidates and by qualification. Range is [0,100].
func Score(in ScoreInput) int {
	score := 0
	switch {
	case in.WordCount >= 800:
		score += 40
	case in.WordCount >= 400:
		score += 32
	case in.WordCount >= 200:
		score += 24
	case in.WordCount >= 100:
		score += 14
	case in.WordCount >= 50:
		score += 6
	}
	switch {
	case in.CharCount >= 5000:
		score += 20
	case in.CharCount >= 2500:
		score += 15
	case in.CharCount >= 1000:
		score += 10
	case in.CharCount >= 500:
		score += 5
	}
	switch {
	case in.Paragraphs >= 5:
		score += 15
	case in.Paragraphs >= 3:
		score += 10
	case in.Paragraphs >= 2:
		score += 5
	}
	if in.HasTitle {
		score += 10
	}
	if in.HasAuthor {
		score += 5
	}
	if in.HasDate {
		score += 10
	}
	return Clamp(score)
}

// ScoreArticle scores an article from its stored fields.
func ScoreArticle(a crawler.ArticleData) int {
	return Score(ScoreInput{
		WordCount:  CountWords(a.Body),
		CharCount:  len([]rune(a.Body)),
		Paragraphs: CountParagraphs(a.Body),
		HasTitle:   strings.TrimSpace(a.Title) != "",
		HasAuthor:  strings.TrimSpace(a.Author) != "",
		HasDate:    a.PublishedAt != nil,
	})
}

// CountWords counts whitespace separated words.
func CountWords(text string) int {
	return len(strings.Fields(text))
}

// CountParagraphs counts blank-line separated blocks.
func CountParagraphs(text string) int {
	n := 0
	for _, block := range strings.Split(text, "\n\n") {
		if strings.TrimSpace(block) != "" {
			n++
		}
	}
	return n
}

// Clamp bounds a score to [0,100].
func Clamp(v int) int {
	switch {
	case v < 0:
		return 0
	case v > 100:
		return 100
	default:
		return v
	}
}

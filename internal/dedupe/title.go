package dedupe

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
)

const (
	DefaultThreshold = 0.85
	DefaultWindow    = 500
)

// NormalizeTitle lower-cases a title and collapses whitespace runs.
func NormalizeTitle(title string) string {
	return strings.Join(strings.Fields(strings.ToLower(title)), " ")
}

// TitleKey is the SHA-256 hex digest of the normalized title.
func TitleKey(title string) string {
	sum := sha256.Sum256([]byte(NormalizeTitle(title)))
	return hex.EncodeToString(sum[:])
}

// Similarity is the Ratcliff/Obershelp ratio 2*M/T between the normalized
// titles, compared rune by rune. The matcher's longest-block choice depends on
// argument order, so both orders are computed and the larger ratio wins.
func Similarity(a, b string) float64 {
	ra := strings.Split(NormalizeTitle(a), "")
	rb := strings.Split(NormalizeTitle(b), "")
	return max(ratio(ra, rb), ratio(rb, ra))
}

func ratio(a, b []string) float64 {
	// Auto-junk would drop frequent runes from long titles and break self-similarity.
	return difflib.NewMatcherWithJunk(a, b, false, nil).Ratio()
}

// Detector flags titles that are near duplicates of recently ingested ones.
type Detector struct {
	Threshold float64
	Window    int
}

func NewDetector(threshold float64, window int) Detector {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if window <= 0 {
		window = DefaultWindow
	}
	return Detector{Threshold: threshold, Window: window}
}

// IsNearDuplicate compares title against the first Window entries of history,
// which is ordered most recent first.
func (d Detector) IsNearDuplicate(title string, history []string) bool {
	if len(history) > d.Window {
		history = history[:d.Window]
	}
	for _, h := range history {
		if Similarity(title, h) >= d.Threshold {
			return true
		}
	}
	return false
}

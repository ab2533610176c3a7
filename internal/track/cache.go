package track

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"

	"github.com/satindergrewal/kanasynth/internal/synth"
)

// keyWindow is the number of scan-order notes (the note itself and the
// notes just after it in time) whose state a cache entry depends on.
const keyWindow = 3

// CacheEntry is the synthesized audio of one note, valid while Key matches
// the note and its later neighbours.
type CacheEntry struct {
	Key    string
	Wave   []float32
	Offset int
}

// NoteHash fingerprints the structural state of a note.
func NoteHash(n *synth.Note) string {
	var f0, vol float64
	for _, v := range n.F0Seg {
		f0 += v
	}
	for _, v := range n.VolumeSeg {
		vol += v
	}
	timings := 0
	for _, v := range n.PhonemeTimings {
		timings += v
	}
	raw := strings.Join([]string{
		n.ID,
		n.Lyric,
		strconv.Itoa(n.Pitch),
		strconv.Itoa(n.Begin),
		strconv.Itoa(n.End),
		strconv.FormatFloat(f0, 'g', -1, 64),
		strconv.FormatFloat(vol, 'g', -1, 64),
		strconv.Itoa(timings),
	}, ":")
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// cacheKeys returns the cache key of every note in begin-descending order:
// the joined hashes of the note and up to two notes scanned before it.
func cacheKeys(desc []*synth.Note) []string {
	hashes := make([]string, len(desc))
	for i, n := range desc {
		hashes[i] = NoteHash(n)
	}
	keys := make([]string, len(desc))
	for i := range desc {
		keys[i] = strings.Join(hashes[max(i-keyWindow+1, 0):i+1], ",")
	}
	return keys
}

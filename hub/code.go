package hub

import (
	"math/rand"
	"strings"
	"sync"
	"time"
)

// No O, I, 1, 0 so codes survive being read aloud or retyped.
var codeAlphabet = []rune("ABCDEFGHJKLMNPQRSTUVWXYZ23456789")

var (
	codeMu  sync.Mutex
	codeSrc = rand.New(rand.NewSource(time.Now().UnixNano()))
)

// GenerateRoomCode returns a share code of the given length, safe to
// embed in a connection path and to display to users.
func GenerateRoomCode(length int) string {
	codeMu.Lock()
	defer codeMu.Unlock()
	var sb strings.Builder
	for range length {
		sb.WriteRune(codeAlphabet[codeSrc.Intn(len(codeAlphabet))])
	}
	return sb.String()
}

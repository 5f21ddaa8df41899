// Package threads implements the event-sourced thread store: the only writer
// of thread events, the identifier scheme, the process-local cache, and the
// derivation of the working conversation from raw history.
package threads

import (
	"crypto/rand"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Thread identifiers have the shape lace_<yyyymmdd>_<6 alphanum>, optionally
// extended with dot-suffixed integers for delegate hierarchy:
// lace_20250731_abc123.1.2. Event identifiers are timestamp plus random.

var threadIDPattern = regexp.MustCompile(`^lace_\d{8}_[0-9a-z]{6}(\.\d+)*$`)

const idAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// NewThreadID generates a fresh root thread identifier.
func NewThreadID() string {
	return fmt.Sprintf("lace_%s_%s", time.Now().UTC().Format("20060102"), randomSuffix(6))
}

// NewEventID generates an event identifier ordered loosely by creation time.
func NewEventID() string {
	return fmt.Sprintf("evt_%d_%s", time.Now().UnixNano(), randomSuffix(6))
}

// NewTaskID generates a task identifier in the same date-plus-random shape
// as thread identifiers.
func NewTaskID() string {
	return fmt.Sprintf("task_%s_%s", time.Now().UTC().Format("20060102"), randomSuffix(6))
}

// ValidThreadID reports whether id has the canonical shape.
func ValidThreadID(id string) bool {
	return threadIDPattern.MatchString(id)
}

// ParentThreadID returns the parent of a delegate identifier, or "" for a
// root thread.
func ParentThreadID(id string) string {
	idx := strings.LastIndex(id, ".")
	if idx < 0 {
		return ""
	}
	return id[:idx]
}

// ChildIndex returns the delegate index of id relative to parent, or -1 when
// id is not an immediate child of parent.
func ChildIndex(parent, id string) int {
	rest, found := strings.CutPrefix(id, parent+".")
	if !found || rest == "" || strings.Contains(rest, ".") {
		return -1
	}
	n, err := strconv.Atoi(rest)
	if err != nil {
		return -1
	}
	return n
}

func randomSuffix(n int) string {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		panic(fmt.Sprintf("threads: read random: %v", err))
	}
	for i, b := range buf {
		buf[i] = idAlphabet[int(b)%len(idAlphabet)]
	}
	return string(buf)
}

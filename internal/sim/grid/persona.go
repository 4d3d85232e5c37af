package grid

import (
	"fmt"
	"math/rand"
	"strings"
)

var (
	firstNames = []string{
		"Ada", "Bea", "Carl", "Dora", "Eli", "Faye", "Gus", "Hana", "Ivo", "June",
		"Kai", "Lena", "Milo", "Nia", "Otto", "Pia", "Quinn", "Rosa", "Sam", "Tess",
		"Uma", "Vic", "Wren", "Xavi", "Yara", "Zed",
	}
	lastNames = []string{
		"Abbott", "Brooks", "Castro", "Diaz", "Ellis", "Fischer", "Garcia", "Hughes",
		"Ito", "Jensen", "Kowalski", "Lopez", "Moreau", "Novak", "Okafor", "Patel",
		"Quist", "Rossi", "Silva", "Tanaka", "Ueda", "Varga", "Weber", "Young",
	}
)

// pseudonym draws a display name and a username for an anonymous player.
func pseudonym(rng *rand.Rand) (name, username string) {
	first := firstNames[rng.Intn(len(firstNames))]
	last := lastNames[rng.Intn(len(lastNames))]
	name = first + " " + last
	username = fmt.Sprintf("%s%s%02d", strings.ToLower(first[:1]), strings.ToLower(last), rng.Intn(100))
	return name, username
}

package normalize

import (
	"fmt"
	"net/url"
	"strings"
	"unicode"
)

// avatarPalette is the fixed color wheel for placeholder avatars. Order
// matters: the same display name must map to the same color every time.
var avatarPalette = []string{
	"e57373", "64b5f6", "81c784", "ffb74d",
	"ba68c8", "4db6ac", "f06292", "a1887f",
}

// PlaceholderAvatar derives a deterministic avatar URL from a display
// name: first letter on a color picked by that letter. Pure function, so
// repeated renders of the same sender always agree.
func PlaceholderAvatar(name string) string {
	initial := "?"
	var first rune
	for _, r := range strings.TrimSpace(name) {
		first = unicode.ToUpper(r)
		initial = string(first)
		break
	}
	color := avatarPalette[int(first)%len(avatarPalette)]
	return fmt.Sprintf("https://ui-avatars.com/api/?name=%s&background=%s&color=fff",
		url.QueryEscape(initial), color)
}

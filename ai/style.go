package ai

import (
	"regexp"
	"strings"
)

var smallCaps = []rune("ᴀʙᴄᴅᴇꜰɢʜɪᴊᴋʟᴍɴᴏᴘǫʀꜱᴛᴜᴠᴡxʏᴢ")

// SmallCaps rewrites ASCII letters as their small capital forms.
func SmallCaps(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return smallCaps[r-'a']
		case r >= 'A' && r <= 'Z':
			return smallCaps[r-'A']
		}
		return r
	}, s)
}

var actionRe = regexp.MustCompile(`\*.*?\*`)

// StripActions removes *roleplay actions* from a model reply.
func StripActions(s string) string {
	return strings.TrimSpace(actionRe.ReplaceAllString(s, ""))
}

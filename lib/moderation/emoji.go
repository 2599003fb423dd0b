package moderation

import "github.com/forPelevin/gomoji"

// emoji base blocks scanned by countEmojiSequences
var emojiRanges = [][2]rune{
	{0x1F600, 0x1F64F}, // emoticons
	{0x1F300, 0x1F5FF}, // symbols and pictographs
	{0x1F680, 0x1F6FF}, // transport
	{0x1F700, 0x1F77F},
	{0x1F780, 0x1F7FF},
	{0x1F800, 0x1F8FF},
	{0x1F900, 0x1F9FF}, // supplemental
	{0x1FA70, 0x1FAFF},
	{0x2600, 0x27BF}, // misc symbols and dingbats
}

const (
	zwj          = 0x200D
	vs16         = 0xFE0F
	skinToneLow  = 0x1F3FB
	skinToneHigh = 0x1F3FF
	regionalLow  = 0x1F1E6
	regionalHigh = 0x1F1FF
)

func isEmojiBase(r rune) bool {
	for _, rg := range emojiRanges {
		if r >= rg[0] && r <= rg[1] {
			return true
		}
	}
	return false
}

// CountEmoji counts visible emoji in the message: zwj chains and flag pairs
// count as one, variation selectors and skin tones are absorbed into the
// preceding base. Telegram custom-emoji entities are added on top. Falls back
// to gomoji for pictographs outside the scanned blocks.
func CountEmoji(task Task) int {
	custom := 0
	for _, e := range task.Entities {
		if e.Type == "custom_emoji" {
			custom++
		}
	}
	return custom + countEmojiSequences(task.Text)
}

// HasExcessiveEmoji reports if the message carries more emoji than allowed.
func HasExcessiveEmoji(task Task, maxAllowed int) bool {
	if maxAllowed < 0 {
		return false
	}
	return CountEmoji(task) > maxAllowed
}

func countEmojiSequences(text string) int {
	runes := make([]rune, 0, len(text))
	for _, r := range text {
		// strip zero-width obfuscation but keep zwj, it glues sequences
		if r != zwj && ((r >= 0x200B && r <= 0x200F) || r == 0x2060 || r == 0xFEFF) {
			continue
		}
		runes = append(runes, r)
	}

	count := 0
	for i := 0; i < len(runes); {
		r := runes[i]

		// regional indicator pair is a single flag
		if r >= regionalLow && r <= regionalHigh {
			if i+1 < len(runes) && runes[i+1] >= regionalLow && runes[i+1] <= regionalHigh {
				i += 2
			} else {
				i++
			}
			count++
			continue
		}

		if !isEmojiBase(r) {
			i++
			continue
		}

		// consume the whole sequence: modifiers and zwj-joined bases
		i++
		for i < len(runes) {
			n := runes[i]
			if n == vs16 || (n >= skinToneLow && n <= skinToneHigh) {
				i++
				continue
			}
			if n == zwj && i+1 < len(runes) && isEmojiBase(runes[i+1]) {
				i += 2
				continue
			}
			break
		}
		count++
	}

	if count == 0 && gomoji.ContainsEmoji(text) {
		count = len(gomoji.CollectAll(text))
	}
	return count
}

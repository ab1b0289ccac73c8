package display

import (
	"fmt"
	"strings"
)

const (
	filledChar = "■"
	emptyChar  = "□"
)

// progressBar renders a bar like: ■■■■□□□□ 50%
func progressBar(current, total, width int) string {
	if total <= 0 || width <= 0 {
		return ""
	}
	if current < 0 {
		current = 0
	}
	if current > total {
		current = total
	}

	percent := (current * 100) / total
	filled := (current * width) / total
	bar := strings.Repeat(filledChar, filled) + strings.Repeat(emptyChar, width-filled)
	return fmt.Sprintf("%s %d%%", bar, percent)
}

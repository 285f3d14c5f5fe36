package helper

import (
	"fmt"
	"time"
)

// FormatTTL renders d with one decimal in the largest unit that fits.
func FormatTTL(d time.Duration) string {
	switch {
	case d <= 0:
		return "0s"
	case d.Hours() >= 1:
		return fmt.Sprintf("%.1fh", d.Hours())
	case d.Minutes() >= 1:
		return fmt.Sprintf("%.1fm", d.Minutes())
	case d.Seconds() >= 1:
		return fmt.Sprintf("%.1fs", d.Seconds())
	default:
		return d.String()
	}
}

// Package banner renders the help-screen logo.
package banner

import (
	"github.com/charmbracelet/lipgloss"

	"usagegen/internal/tui/styles"
)

const ascii = `
 _   _ ___  __ _  __ _  ___  __ _  ___ _ __  
| | | / __|/ _' |/ _' |/ _ \/ _' |/ _ \ '_ \ 
| |_| \__ \ (_| | (_| |  __/ (_| |  __/ | | |
 \__,_|___/\__,_|\__, |\___|\__, |\___|_| |_|
                 |___/      |___/            `

func GetString() string {
	style := lipgloss.DefaultRenderer().NewStyle().
		Foreground(styles.ColorBanner).
		Bold(true)
	return "\n" + style.Render(ascii) + "\n"
}

package main

import (
	"fmt"
	"os"

	"golang.org/x/term"
)

type menuItem struct {
	label   string
	enabled bool
}

// nextEnabled steps from i in direction dir to the closest enabled item,
// or returns i when there is none.
func nextEnabled(items []menuItem, i, dir int) int {
	for j := i + dir; j >= 0 && j < len(items); j += dir {
		if items[j].enabled {
			return j
		}
	}
	return i
}

// selectSlot lets the operator pick a pairing slot with the arrow keys.
// Disabled rows are shown dimmed and skipped. It returns -1 when no row
// is enabled or stdin is not a terminal.
func selectSlot(prompt string, items []menuItem) int {
	selected := nextEnabled(items, -1, 1)
	if selected < 0 {
		return -1
	}

	fd := int(os.Stdin.Fd())
	oldState, err := term.MakeRaw(fd)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error setting raw mode: %v\r\n", err)
		return -1
	}
	defer term.Restore(fd, oldState)

	render := func() {
		for i, it := range items {
			fmt.Print("\033[2K\r")
			switch {
			case i == selected:
				fmt.Printf("> %s\r\n", it.label)
			case !it.enabled:
				fmt.Printf("  \033[2m%s\033[0m\r\n", it.label)
			default:
				fmt.Printf("  %s\r\n", it.label)
			}
		}
	}

	fmt.Printf("%s\r\n", prompt)
	render()

	buf := make([]byte, 3)
	for {
		n, err := os.Stdin.Read(buf)
		if err != nil {
			return -1
		}
		prev := selected
		switch {
		case n == 1 && (buf[0] == '\r' || buf[0] == '\n'):
			fmt.Print("\r\n")
			return selected
		case n == 1 && (buf[0] == 0x03 || buf[0] == 'q'): // Ctrl-C or q
			fmt.Print("\r\n")
			return -1
		case n == 3 && buf[0] == 0x1B && buf[1] == '[' && buf[2] == 'A':
			selected = nextEnabled(items, selected, -1)
		case n == 3 && buf[0] == 0x1B && buf[1] == '[' && buf[2] == 'B':
			selected = nextEnabled(items, selected, 1)
		}
		if selected != prev {
			fmt.Printf("\033[%dA", len(items))
			render()
		}
	}
}

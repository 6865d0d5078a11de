package entities

// Line is one row of text on the status display, positioned in pixels.
type Line struct {
	Text string
	X    int
	Y    int
}

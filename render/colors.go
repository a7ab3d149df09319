package render

// Escape is a pair of terminal escape sequences bracketing a style.
type Escape struct {
	Enable  string
	Disable string
}

// Colors maps the renderer's styles onto escape sequences.
type Colors struct {
	Normal Escape
	Red    Escape
	Green  Escape
	Cyan   Escape
	Blue   Escape
	Bold   Escape
}

// NoColors renders everything unstyled.
var NoColors = &Colors{}

// VT100Colors is the standard ANSI palette.
var VT100Colors = &Colors{
	Normal: Escape{Enable: "\x1b[39m"},
	Red:    Escape{Enable: "\x1b[31m"},
	Green:  Escape{Enable: "\x1b[32m"},
	Cyan:   Escape{Enable: "\x1b[36m"},
	Blue:   Escape{Enable: "\x1b[34m"},
	Bold:   Escape{Enable: "\x1b[1m", Disable: "\x1b[0m"},
}

// Style classifies a run of output bytes.
type Style uint8

const (
	StyleNormal Style = iota
	StyleError
	StyleFrame
	StyleHeader
	StyleWhitespace
	StyleDigit
	StyleLetter
)

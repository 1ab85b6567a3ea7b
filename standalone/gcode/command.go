package gcode

// Command is a parsed G-code line
type Command struct {
	Type       byte             // 'G', 'M' or 'T'; 0 for a comment-only line
	Number     int              // Command number (907 for M907)
	Parameters map[byte]float64 // Parameter letter -> value
	Comment    string
	LineNumber int  // N word, when present
	HasLine    bool // LineNumber was given
}

// HasParameter checks if a parameter exists in the command
func (cmd *Command) HasParameter(param byte) bool {
	_, ok := cmd.Parameters[param]
	return ok
}

// GetParameter gets a parameter value, or returns the default if not present
func (cmd *Command) GetParameter(param byte, defaultValue float64) float64 {
	if val, ok := cmd.Parameters[param]; ok {
		return val
	}
	return defaultValue
}

// Is reports whether the command is the given type and number, e.g. Is('M', 907).
func (cmd *Command) Is(cmdType byte, number int) bool {
	return cmd.Type == cmdType && cmd.Number == number
}

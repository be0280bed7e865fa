package formats

import "strconv"

// isDateFormat reports whether a number format renders its value as a date
// or time. code is the format string when the workbook defines one; built-in
// formats are recognized by id alone.
func isDateFormat(id int, code string) bool {
	if code == "" {
		return isBuiltinDateFormat(id)
	}
	return hasDateTokens(code)
}

// isBuiltinDateFormat covers the standard date formats and the locale
// specific ones Excel reserves for East Asian and Thai calendars.
func isBuiltinDateFormat(id int) bool {
	switch {
	case id >= 14 && id <= 22,
		id >= 27 && id <= 36,
		id >= 45 && id <= 47,
		id >= 50 && id <= 58,
		id >= 71 && id <= 81:
		return true
	}
	return false
}

// hasDateTokens scans the positive section of a format code for date or
// time placeholders, skipping quoted literals, escapes and bracketed
// modifiers such as [Red] or [$-409]. Elapsed time brackets ([h], [mm])
// count as time.
func hasDateTokens(code string) bool {
	inQuote := false
	for i := 0; i < len(code); i++ {
		c := code[i]
		switch {
		case inQuote:
			if c == '"' {
				inQuote = false
			}
		case c == '"':
			inQuote = true
		case c == '\\', c == '_', c == '*':
			i++
		case c == '[':
			end := i + 1
			for end < len(code) && code[end] != ']' {
				end++
			}
			if isElapsedToken(code[i+1 : end]) {
				return true
			}
			i = end
		case c == ';':
			return false
		default:
			switch c | 0x20 {
			case 'd', 'm', 'y', 'h', 's':
				return true
			}
		}
	}
	return false
}

func isElapsedToken(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i]|0x20 != s[0]|0x20 {
			return false
		}
	}
	switch s[0] | 0x20 {
	case 'h', 'm', 's':
		return true
	}
	return false
}

// excelNumber drops binary noise beyond the 15 significant digits a
// spreadsheet keeps, so 0.1+0.2 reads back as 0.3.
func excelNumber(v float64) float64 {
	n, err := strconv.ParseFloat(strconv.FormatFloat(v, 'g', 15, 64), 64)
	if err != nil {
		return v
	}
	return n
}

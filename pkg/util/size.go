package util

import (
	"fmt"
	"strconv"
	"strings"
)

var sizeUnits = map[string]int64{
	"B":   1,
	"KB":  1024,
	"KIB": 1024,
	"MB":  1024 * 1024,
	"MIB": 1024 * 1024,
	"GB":  1024 * 1024 * 1024,
	"GIB": 1024 * 1024 * 1024,
}

// ParseSize parses a human-readable size string such as "10MB" or "1.5GB"
// into bytes. A bare number is taken as bytes.
func ParseSize(sizeStr string) (int64, error) {
	sizeStr = strings.TrimSpace(strings.ToUpper(sizeStr))
	if sizeStr == "" {
		return 0, fmt.Errorf("empty size string")
	}

	var numberPart, unitPart string
	for unit := range sizeUnits {
		if strings.HasSuffix(sizeStr, unit) && len(unit) > len(unitPart) {
			numberPart = strings.TrimSuffix(sizeStr, unit)
			unitPart = unit
		}
	}

	if unitPart == "" {
		n, err := strconv.ParseInt(sizeStr, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid size format: %s", sizeStr)
		}
		return n, nil
	}

	number, err := strconv.ParseFloat(strings.TrimSpace(numberPart), 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size number: %s", numberPart)
	}
	if number < 0 {
		return 0, fmt.Errorf("size cannot be negative: %s", sizeStr)
	}

	return int64(number * float64(sizeUnits[unitPart])), nil
}

// FormatBytes renders a byte count in the largest whole unit.
func FormatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

package utils

// IsValidInterval whitelists the interval names that map onto ClickHouse
// toStartOf* functions; anything else would be interpolated into SQL.
func IsValidInterval(interval string) bool {
	switch interval {
	case "Minute", "Hour", "Day", "Week", "Month", "Quarter", "Year":
		return true
	default:
		return false
	}
}

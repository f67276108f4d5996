package unsafex

import "unsafe"

// StringToBytes returns the bytes backing s without copying. The result must
// not be modified.
func StringToBytes(s string) []byte {
	if s == "" {
		return nil
	}

	return unsafe.Slice(unsafe.StringData(s), len(s))
}

// BytesToString returns a string sharing b's memory. b must not be modified
// while the string is alive.
func BytesToString(b []byte) string {
	if len(b) == 0 {
		return ""
	}

	return unsafe.String(unsafe.SliceData(b), len(b))
}

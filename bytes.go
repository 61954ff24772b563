package levelbind

// bytes.go implements string conversion helpers for keys and values.

// Bytes converts s to a key or value. The result is a fresh copy.
func Bytes(s string) []byte {
	return []byte(s)
}

// String converts a key or value to a string. A nil slice yields "".
func String(b []byte) string {
	if b == nil {
		return ""
	}
	return string(b)
}

package dashscope

// BoolPtr returns a pointer to the provided bool.
func BoolPtr(v bool) *bool {
	return &v
}

// IntPtr returns a pointer to the provided int.
func IntPtr(v int) *int {
	return &v
}

// Float64Ptr returns a pointer to the provided float64.
func Float64Ptr(v float64) *float64 {
	return &v
}

// StringPtr returns a pointer to the provided string.
func StringPtr(v string) *string {
	return &v
}

package helpers

// MaskValue is the default mask used for sensitive fields
const MaskValue = "***********"

// MaskArguments returns a copy of args with sensitive argument values masked.
func MaskArguments(sensitiveFields []string, args map[string]interface{}) map[string]interface{} {
	sensitive := make(map[string]bool)
	for _, f := range sensitiveFields {
		sensitive[f] = true
	}

	masked := make(map[string]interface{}, len(args))
	for k, v := range args {
		if sensitive[k] {
			masked[k] = MaskValue
		} else {
			masked[k] = v
		}
	}
	return masked
}

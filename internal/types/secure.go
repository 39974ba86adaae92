package types

// redactedPlaceholder replaces secret values in logs and serialization.
const redactedPlaceholder = "***REDACTED***"

// SecretString is a string type that prevents accidental logging or
// serialization of sensitive values (API keys, connection strings). It
// satisfies fmt.Stringer and json.Marshaler with a redacted placeholder.
// Call Unmask at the single point where the raw value is genuinely needed.
type SecretString string

// String returns a redacted placeholder instead of the raw value.
func (s SecretString) String() string {
	return redactedPlaceholder
}

// MarshalJSON returns the redacted placeholder as a JSON string so secrets
// never leak through config dumps or structured log entries.
func (s SecretString) MarshalJSON() ([]byte, error) {
	return []byte(`"` + redactedPlaceholder + `"`), nil
}

// Unmask returns the raw plaintext value. Usage should be limited to
// constructing Authorization headers and connection strings.
func (s SecretString) Unmask() string {
	return string(s)
}

package resultstore

import "regexp"

// Redaction markers substituted for credential material in provider errors.
const (
	redactedKey = "[REDACTED_KEY]"
	redacted    = "[REDACTED]"
)

// The store gateway must never surface raw provider error text: S3 error
// bodies and presigned URLs can embed access keys, secrets and signatures.
// Every failure path runs through Sanitize before logging or wrapping.
var (
	// Access key IDs are 20 chars with a fixed prefix set.
	accessKeyPattern = regexp.MustCompile(`(?:AKIA|ASIA|AGPA|AIDA|AROA|ANPA)[A-Z0-9]{16}`)

	// Secrets and signatures are long base64-like strings.
	secretPattern = regexp.MustCompile(`[A-Za-z0-9+/=]{40,}`)

	// Presign query parameters.
	presignParamPattern = regexp.MustCompile(`(?i)(X-Amz-(?:Credential|Signature|Security-Token|SignedHeaders|Algorithm|Expires))=[^&\s]+`)

	// Credential fields inside XML error bodies.
	xmlAccessKeyPattern = regexp.MustCompile(`<AWSAccessKeyId>[^<]+</AWSAccessKeyId>`)
	xmlSecretPattern    = regexp.MustCompile(`<SecretAccessKey>[^<]+</SecretAccessKey>`)
	xmlSignaturePattern = regexp.MustCompile(`<Signature>[^<]+</Signature>`)

	// Credential fields inside JSON error bodies.
	jsonAccessKeyPattern = regexp.MustCompile(`"AWSAccessKeyId":\s*"[^"]+"`)
	jsonSecretPattern    = regexp.MustCompile(`"SecretAccessKey":\s*"[^"]+"`)
	jsonSignaturePattern = regexp.MustCompile(`"Signature":\s*"[^"]+"`)
)

// Sanitize redacts credential-shaped substrings from a provider error
// message. The output is safe to log and to return to callers.
func Sanitize(message string) string {
	message = accessKeyPattern.ReplaceAllString(message, redactedKey)
	message = secretPattern.ReplaceAllString(message, redacted)
	message = presignParamPattern.ReplaceAllString(message, "$1="+redacted)

	message = xmlAccessKeyPattern.ReplaceAllString(message, "<AWSAccessKeyId>"+redactedKey+"</AWSAccessKeyId>")
	message = xmlSecretPattern.ReplaceAllString(message, "<SecretAccessKey>"+redacted+"</SecretAccessKey>")
	message = xmlSignaturePattern.ReplaceAllString(message, "<Signature>"+redacted+"</Signature>")

	message = jsonAccessKeyPattern.ReplaceAllString(message, `"AWSAccessKeyId": "`+redactedKey+`"`)
	message = jsonSecretPattern.ReplaceAllString(message, `"SecretAccessKey": "`+redacted+`"`)
	message = jsonSignaturePattern.ReplaceAllString(message, `"Signature": "`+redacted+`"`)

	return message
}

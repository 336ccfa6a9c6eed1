package passhroom

var messages = map[string]string{
	CodeBadEmail:            "Enter a valid email address.",
	CodeBadCode:             "Enter the code from your email.",
	CodeBadState:            "This sign-in attempt expired or was started in another browser. Start again.",
	CodeMissingClientSecret: "Sign-in is not configured on this server.",
	CodeClientSecretInvalid: "Sign-in is misconfigured on this server.",
	CodeUnreachable:         "The sign-in service could not be reached. Try again in a moment.",
	CodeStartFailed:         "Could not send the sign-in email.",
	CodeCodeNoLocation:      "The sign-in service returned an unexpected response.",
	CodeCodeBadLocation:     "The sign-in service returned a malformed redirect.",
	CodeCodeMissingParams:   "The sign-in service did not return an authorization code.",
	CodeCodeFailed:          "The sign-in service rejected the code.",
	CodeRateLimited:         "Too many attempts. Wait a minute and try again.",
	CodeCodeUsed:            "That code was already used. Request a new email.",
	CodeCodeExpired:         "That code has expired. Request a new email.",
	CodeInvalidCode:         "That code is not valid.",
	CodeTokenExchangeFailed: "Sign-in could not be completed.",
}

// CooldownMessage is shown when the provider refuses to send another email yet
// and did not say why.
const CooldownMessage = "A sign-in email was recently sent. Use the newest email in your inbox."

// Message returns the user-facing text for a handshake failure code.
func Message(code string) string {
	if m, ok := messages[code]; ok {
		return m
	}
	return "Sign-in failed (" + code + ")."
}

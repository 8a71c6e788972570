package model

// OAuthError is the OAuth2-flavored error envelope returned by the token
// endpoint and the authentication middleware.
type OAuthError struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// TokenResponse is the successful response of the token endpoint.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
	Scope       string `json:"scope"`
}

// ErrorResponse is the envelope for non-OAuth errors (rate limiting,
// validation failures on the admin surface).
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains the structured error information returned by the API.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

package models

// CredentialsRequest is the body of register and login.
type CredentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Session is the token bundle returned by a successful login.
type Session struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	ExpiresAt    int64  `json:"expires_at"`
}

type TextToImageRequest struct {
	Prompt string `json:"prompt"`
}

type CreateOrderRequest struct {
	Amount   int64                  `json:"amount"` // smallest currency unit
	Currency string                 `json:"currency"`
	Notes    map[string]interface{} `json:"notes"`
}

type GrantCreditsRequest struct {
	Amount int `json:"amount"`
}

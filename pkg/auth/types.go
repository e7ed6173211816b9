package auth

// MessageResponse carries the sign-in message, with its nonce, issued for an
// address
type MessageResponse struct {
	Message string `json:"message"`
}

// LoginRequest is a signed sign-in message. Signature is base58.
type LoginRequest struct {
	Message   string `json:"message"`
	Signature string `json:"signature"`
}

type User struct {
	ID            uint64 `json:"id"`
	WalletAddress string `json:"walletAddress"`
	CreatedAt     string `json:"createdAt"`
	UpdatedAt     string `json:"updatedAt"`
}

type AuthResponse struct {
	User         *User  `json:"user"`
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

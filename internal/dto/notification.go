package dto

// RegisterDeviceTokenRequest registers a push endpoint for the caller.
type RegisterDeviceTokenRequest struct {
	Token    string `json:"token" validate:"required"`
	Platform string `json:"platform" validate:"required,oneof=android ios web"`
}

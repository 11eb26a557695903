package server

// HTTPError is the unified error body emitted by the error handler.
type HTTPError struct {
	Error string `json:"error"`
}

type LoginRequest struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone,omitempty"`
}

type LoginResponse struct {
	CitizenID int64  `json:"citizen_id"`
	Token     string `json:"session_token"`
}

type ChatRequest struct {
	CitizenID int64  `json:"citizen_id"`
	Token     string `json:"session_token"`
	Question  string `json:"question"`
}

type ClearRequest struct {
	CitizenID int64  `json:"citizen_id"`
	Token     string `json:"session_token"`
}

// MessageResponse is the confirmation body for state-changing citizen calls.
type MessageResponse struct {
	Message string `json:"message"`
}

type UploadResponse struct {
	Filename string `json:"filename"`
	Chunks   int    `json:"chunks"`
}

type StaffLoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type TokenResponse struct {
	Token string `json:"token"`
}

type FaqRequest struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

type FaqResponse struct {
	ID       int64  `json:"id"`
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

type EscalationView struct {
	CitizenID    int64  `json:"citizen_id"`
	SessionToken string `json:"session_token"`
}

type ExchangeView struct {
	ID         int64   `json:"id"`
	SessionID  int64   `json:"session_id"`
	Question   string  `json:"question"`
	Answer     string  `json:"answer"`
	Confidence float64 `json:"confidence"`
	CreatedAt  string  `json:"created_at"`
}

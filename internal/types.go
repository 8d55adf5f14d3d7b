package internal

// Mode selects how a refinement request chooses its iteration bound.
type Mode string

const (
	// ModeUserDefined runs the number of iterations given in the request.
	ModeUserDefined Mode = "user_defined"
	// ModeAuto ignores the request's iterations and uses the configured default.
	ModeAuto Mode = "auto"
)

func (m Mode) Valid() bool {
	return m == ModeUserDefined || m == ModeAuto
}

// RefineRequest is the inbound refinement contract.
type RefineRequest struct {
	Prompt       string `json:"prompt"`
	Mode         Mode   `json:"mode"`
	CreatorModel string `json:"creator_model"`
	CriticModel  string `json:"critic_model"`
	Iterations   int    `json:"iterations"`
}

// RefineResponse is returned once the whole loop has completed.
type RefineResponse struct {
	RunID       string `json:"run_id"`
	FinalPrompt string `json:"final_prompt"`
	Iterations  int    `json:"iterations"`
}

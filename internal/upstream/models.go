package upstream

// Model catalog and usage schema returned by the Copilot API.

type ModelsResponse struct {
	Object string  `json:"object"`
	Data   []Model `json:"data"`
}

type Model struct {
	ID           string            `json:"id"`
	Name         string            `json:"name"`
	Vendor       string            `json:"vendor"`
	Version      string            `json:"version,omitempty"`
	Capabilities ModelCapabilities `json:"capabilities"`
}

type ModelCapabilities struct {
	Family string      `json:"family,omitempty"`
	Type   string      `json:"type,omitempty"`
	Limits ModelLimits `json:"limits"`
}

type ModelLimits struct {
	MaxContextWindowTokens int `json:"max_context_window_tokens,omitempty"`
	MaxPromptTokens        int `json:"max_prompt_tokens,omitempty"`
	MaxOutputTokens        int `json:"max_output_tokens,omitempty"`
}

// Has reports whether the catalog lists the given model id.
func (mr *ModelsResponse) Has(modelID string) bool {
	if mr == nil {
		return false
	}
	for _, m := range mr.Data {
		if m.ID == modelID {
			return true
		}
	}
	return false
}

// Find returns the catalog entry for a model id, or nil.
func (mr *ModelsResponse) Find(modelID string) *Model {
	if mr == nil {
		return nil
	}
	for i := range mr.Data {
		if mr.Data[i].ID == modelID {
			return &mr.Data[i]
		}
	}
	return nil
}

type CopilotTokenResponse struct {
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expires_at"`
	RefreshIn int    `json:"refresh_in"`
}

type GithubUser struct {
	Login string `json:"login"`
}

type QuotaDetail struct {
	Entitlement      float64 `json:"entitlement"`
	Remaining        float64 `json:"remaining"`
	PercentRemaining float64 `json:"percent_remaining"`
	Unlimited        bool    `json:"unlimited"`
}

type QuotaSnapshots struct {
	PremiumInteractions *QuotaDetail `json:"premium_interactions,omitempty"`
	Chat                *QuotaDetail `json:"chat,omitempty"`
	Completions         *QuotaDetail `json:"completions,omitempty"`
}

type UsageResponse struct {
	CopilotPlan    string         `json:"copilot_plan"`
	QuotaResetDate string         `json:"quota_reset_date"`
	QuotaSnapshots QuotaSnapshots `json:"quota_snapshots"`
}

package assistant

// Model is a selectable provider model.
type Model struct {
	ID          string `json:"id"`
	Label       string `json:"label"`
	Description string `json:"description"`
}

const DefaultModel = "claude-sonnet-4-6"

var Models = []Model{
	{ID: "claude-sonnet-4-6", Label: "Claude Sonnet 4.6", Description: "Best balance of speed and intelligence (recommended)"},
	{ID: "claude-opus-4-6", Label: "Claude Opus 4.6", Description: "Most powerful — best for complex analysis"},
	{ID: "claude-haiku-4-5-20251001", Label: "Claude Haiku 4.5", Description: "Fastest and most cost-efficient"},
}

func knownModel(id string) bool {
	for _, m := range Models {
		if m.ID == id {
			return true
		}
	}
	return false
}

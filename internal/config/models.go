package config

// Model describes a selectable chat model
type Model struct {
	ID          string
	Name        string
	Description string
}

// AvailableModels is the catalog offered by the model selector
var AvailableModels = []Model{
	{
		ID:          "gpt-4o",
		Name:        "GPT-4o",
		Description: "Most capable model for complex tasks and content.",
	},
	{
		ID:          "gpt-4o-mini",
		Name:        "GPT 4o-mini",
		Description: "Balanced performance for everyday tasks at a lower cost.",
	},
	{
		ID:          "o3-mini",
		Name:        "o3-mini",
		Description: "Best for technical content, coding, and detailed analysis.",
	},
}

// IsKnownModel reports whether id is in the catalog
func IsKnownModel(id string) bool {
	_, ok := LookupModel(id)
	return ok
}

// LookupModel finds a catalog entry by id
func LookupModel(id string) (Model, bool) {
	for _, m := range AvailableModels {
		if m.ID == id {
			return m, true
		}
	}
	return Model{}, false
}

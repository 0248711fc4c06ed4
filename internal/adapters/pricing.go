package adapters

import "snowgoose-backend/internal/models"

const perMillion = 1_000_000

// TurnCost prices a turn from its token and tool counts. Token costs are
// dollars per million tokens; web searches are priced per call.
func TurnCost(cfg models.ModelConfig, u models.Usage) float64 {
	return float64(u.InputTokens)*cfg.InputTokenCost/perMillion +
		float64(u.OutputTokens)*cfg.OutputTokenCost/perMillion +
		float64(u.ImageOutputTokens)*cfg.ImageOutputTokenCost/perMillion +
		float64(u.WebSearchCount)*cfg.WebSearchCost
}

func metaEvent(cfg models.ModelConfig, model string, u models.Usage) models.MetaEvent {
	if u.TotalCost == 0 {
		u.TotalCost = TurnCost(cfg, u)
	}
	if model == "" {
		model = cfg.APIName
	}
	return models.MetaEvent{Model: model, Usage: &u}
}

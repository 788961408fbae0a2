package model

// Event is a single academic schedule entry as delivered by the feed.
//
// Dates are kept exactly as received: day/month/year separated by '/'
// (e.g. "15/03/2024"). Parsing happens only at display/grouping time in
// internal/schedule, so a malformed date never prevents the rest of the
// feed from loading.
type Event struct {
	Discipline string `json:"disciplina"`
	Category   string `json:"tipo"`
	StartDate  string `json:"data"`
	EndDate    string `json:"data_fim,omitempty"`
	Time       string `json:"horario"`
	Location   string `json:"local"`
}

// Feed is one loaded schedule: the period label shown on exported pages
// plus the ordered event list.
type Feed struct {
	Period string  `json:"periodo"`
	Events []Event `json:"eventos"`
}

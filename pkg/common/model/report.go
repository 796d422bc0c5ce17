package model

// Report is the result of evaluating one SLO against one error budget policy
// step at one timestamp. It is immutable once created, the engine hands it to
// the report exporters and doesn't retain history.
//
// The JSON field names are the stable export contract.
type Report struct {
	ServiceName    string `json:"service_name"`
	FeatureName    string `json:"feature_name"`
	SLOName        string `json:"slo_name"`
	SLODescription string `json:"slo_description,omitempty"`
	StepName       string `json:"error_budget_policy_step_name"`

	// Timestamp is the evaluation time as a UNIX timestamp in seconds,
	// TimestampHuman is the same instant in RFC3339 UTC.
	Timestamp      int64  `json:"timestamp"`
	TimestampHuman string `json:"timestamp_human"`
	// Window is the measurement window in seconds.
	Window int64 `json:"window"`

	SLIMeasurement float64 `json:"sli_measurement"`
	SLOTarget      float64 `json:"slo_target"`
	// Gap is the margin between the measured SLI and the target, negative
	// when the objective is missed.
	Gap float64 `json:"gap"`

	GoodEventsCount float64 `json:"good_events_count"`
	BadEventsCount  float64 `json:"bad_events_count"`

	// ErrorBudgetTarget is the allowed error ratio (1 - slo_target).
	ErrorBudgetTarget float64 `json:"error_budget_target"`
	// ErrorBudgetRemaining is the fraction of the error budget left, negative
	// when the budget is exhausted. Never clamped.
	ErrorBudgetRemaining float64 `json:"error_budget_remaining"`
	// ErrorBudgetMinutes is the error budget remaining expressed in minutes
	// of the window.
	ErrorBudgetMinutes float64 `json:"error_budget_minutes"`
	// ErrorMinutes are the minutes of the window consumed by errors.
	ErrorMinutes float64 `json:"error_minutes"`

	// BurnRate is the observed budget consumption rate relative to the
	// allowed rate over the window.
	BurnRate float64 `json:"burn_rate"`
	// Alert is true when the burn rate reaches the step threshold.
	Alert bool `json:"alert"`
	// Message is the step alert/ok message matching the Alert state.
	Message string `json:"message,omitempty"`
}
